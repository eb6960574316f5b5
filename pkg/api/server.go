package api

import (
	"github.com/clawbotneo/nl-verkeer/pkg/api/routes"
	"github.com/clawbotneo/nl-verkeer/pkg/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// NewApp builds the web API. reporter may be nil when enrichment is disabled.
func NewApp(events routes.EventsProvider, reporter routes.FailureReporter) *fiber.App {
	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	webApp.Use(NewLogger())

	webApp.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	group := webApp.Group("/api")

	group.Get("version", routes.APIVersion)

	routes.EventsRouter(group.Group("/events"), events)
	routes.DiagnosticsRouter(group.Group("/diagnostics"), reporter)

	return webApp
}

func SetupServer(listen string, events routes.EventsProvider, reporter routes.FailureReporter) error {
	return NewApp(events, reporter).Listen(listen)
}
