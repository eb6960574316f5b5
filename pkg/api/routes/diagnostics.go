package routes

import (
	"github.com/clawbotneo/nl-verkeer/pkg/enrichment"
	"github.com/gofiber/fiber/v2"
)

type FailureReporter interface {
	LastFailure() (enrichment.Failure, bool)
}

func DiagnosticsRouter(router fiber.Router, reporter FailureReporter) {
	router.Get("/enrichment", func(c *fiber.Ctx) error {
		if reporter == nil {
			return c.JSON(fiber.Map{})
		}

		failure, ok := reporter.LastFailure()
		if !ok {
			return c.JSON(fiber.Map{})
		}

		return c.JSON(failure)
	})
}
