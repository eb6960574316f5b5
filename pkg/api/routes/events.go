package routes

import (
	"context"

	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator"
	"github.com/clawbotneo/nl-verkeer/pkg/query"
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
)

type EventsProvider interface {
	Events(ctx context.Context) (*dataaggregator.Result, error)
}

var viewGroups = map[string][]string{
	"basic":    {"basic"},
	"detailed": {"basic", "detailed"},
}

func EventsRouter(router fiber.Router, provider EventsProvider) {
	router.Get("/", func(c *fiber.Ctx) error {
		return listEvents(c, provider)
	})
}

func listEvents(c *fiber.Ctx, provider EventsProvider) error {
	var params query.Params
	if err := c.QueryParser(&params); err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	q, err := query.ParseQuery(params)
	if err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	groups, ok := viewGroups[c.Query("view", "basic")]
	if !ok {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": "view must be basic or detailed",
		})
	}

	result, err := provider.Events(c.UserContext())
	if err != nil {
		c.SendStatus(fiber.StatusServiceUnavailable)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	eventsReduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: groups,
	}, query.Apply(result.Events, q))
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	response := fiber.Map{
		"events":    eventsReduced,
		"fetchedAt": result.FetchedAt,
		"stale":     result.Stale,
	}
	if result.Warning != "" {
		response["warning"] = result.Warning
	}

	return c.JSON(response)
}
