package http

import (
	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the canonical error payload for all handlers.
type ErrorResponse struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// JSONResponse writes a JSON body with the given status.
func JSONResponse(c *fiber.Ctx, status int, body any) error {
	return c.Status(status).JSON(body)
}

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, body any) error {
	return JSONResponse(c, fiber.StatusOK, body)
}

// Created sends an HTTP 201 Created response with a custom body.
func Created(c *fiber.Ctx, body any) error {
	return JSONResponse(c, fiber.StatusCreated, body)
}

// WriteError writes a structured error response using the ErrorResponse
// schema. This is the canonical way to write error responses and ensures
// consistency across all handlers.
func WriteError(c *fiber.Ctx, status int, code, title, message string) error {
	return JSONResponse(c, status, ErrorResponse{
		Code:    code,
		Title:   title,
		Message: message,
	})
}

// Ping returns HTTP Status 200 with response "pong".
func Ping(c *fiber.Ctx) error {
	return c.SendString("pong")
}

// Health returns HTTP Status 200 with a static health body.
func Health(c *fiber.Ctx) error {
	return OK(c, fiber.Map{"status": "healthy"})
}
