package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/openvault/custody-engine/custody/auth"
	"github.com/openvault/custody-engine/custody/log"
)

// HeaderRequestID carries the request correlation id.
const HeaderRequestID = "X-Request-Id"

// WithRequestID assigns a UUID to requests missing a correlation id and
// echoes it on the response.
func WithRequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(HeaderRequestID, requestID)
		c.Locals(HeaderRequestID, requestID)

		return c.Next()
	}
}

// WithLogging logs one structured entry per request.
func WithLogging(logger log.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		requestID, _ := c.Locals(HeaderRequestID).(string)
		logger.Log(c.UserContext(), log.LevelInfo, "http request",
			log.String("method", c.Method()),
			log.String("path", c.Path()),
			log.Int("status", c.Response().StatusCode()),
			log.String("request_id", requestID),
			log.Any("duration_ms", time.Since(start).Milliseconds()),
		)

		return err
	}
}

// WithAuthToken extracts the bearer token from the Authorization header into
// the request context, where the engine's authenticator reads it. Both
// "Bearer TOKEN" and raw token formats are accepted.
func WithAuthToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractTokenFromHeader(c)
		if token != "" {
			c.SetUserContext(auth.WithToken(c.UserContext(), token))
		}

		return c.Next()
	}
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) > 1 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}

	return strings.TrimSpace(parts[0])
}
