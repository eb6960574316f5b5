package routes

import "github.com/gofiber/fiber/v2"

// Version is set at build time through -ldflags.
var Version = "v0.1"

func APIVersion(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": Version,
	})
}
