package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/openvault/custody-engine/custody/log"
)

// NewRouter builds the Fiber app with all custody routes and middleware.
func NewRouter(handler *Handler, logger log.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "custody-engine",
		DisableStartupMessage: true,
	})

	app.Use(WithRequestID())
	app.Use(WithAuthToken())
	app.Use(WithLogging(logger))

	app.Get("/ping", Ping)
	app.Get("/health", Health)

	v1 := app.Group("/v1")

	v1.Post("/initialize", handler.Initialize)

	v1.Post("/transactions", handler.CreateTransaction)
	// Counter must be registered before the :id route so it is not captured
	// as a transaction id.
	v1.Get("/transactions/counter", handler.GetTransactionCounter)
	v1.Get("/transactions/:id", handler.GetTransaction)
	v1.Post("/transactions/:id/approvals", handler.ApproveTransaction)

	v1.Get("/guardians/:address", handler.GetGuardian)

	v1.Get("/wallets/hot/balance", handler.GetHotBalance)
	v1.Get("/wallets/cold/balance", handler.GetColdBalance)
	v1.Get("/wallets/:address/balance", handler.GetWalletBalance)

	v1.Get("/limits", handler.GetSystemLimits)

	v1.Post("/emergency", handler.EmergencyShutdown)
	v1.Get("/emergency", handler.GetEmergencyMode)

	return app
}
