package custody

import "os"

// GetenvOrDefault returns the value of the environment variable named by key,
// or defaultValue when the variable is unset or empty.
func GetenvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}
