package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clawbotneo/nl-verkeer/pkg/api/routes"
	"github.com/clawbotneo/nl-verkeer/pkg/config"
	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator/global"
	"github.com/clawbotneo/nl-verkeer/pkg/query"
	"github.com/kr/pretty"
	"github.com/liip/sheriff"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "YAML configuration file",
	EnvVars: []string{"NLVERKEER_CONFIG"},
}

var modeFlag = &cli.StringFlag{
	Name:  "mode",
	Usage: "ingestion mode: primary or scrape-preferred",
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}

	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("mode") {
		cfg.Mode = c.String("mode")
	}

	return cfg, config.Validate(cfg)
}

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "web-api",
		Usage: "Provides the traffic events web API",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run web api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
						Usage: "listen target for the web server",
					},
					modeFlag,
					configFlag,
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}

					pipeline, err := global.Setup(cfg)
					if err != nil {
						return err
					}

					var reporter routes.FailureReporter
					if pipeline.Enricher != nil {
						reporter = pipeline.Enricher
					}

					return SetupServer(cfg.Listen, pipeline.Aggregator, reporter)
				},
			},
		},
	}
}

// RegisterSnapshotCLI fetches one snapshot and prints it, for checking upstreams by hand.
func RegisterSnapshotCLI() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Fetch the current events once and print them",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "road", Usage: "only events on this road, eg. A8"},
			&cli.StringFlag{Name: "category", Usage: "jam or accident"},
			&cli.StringFlag{Name: "sort", Value: string(query.DefaultSort), Usage: "delay, length or road"},
			&cli.BoolFlag{Name: "pretty", Usage: "print Go values instead of JSON"},
			modeFlag,
			configFlag,
		},
		Action: func(c *cli.Context) error {
			q, err := query.ParseQuery(query.Params{
				Road:     c.String("road"),
				Category: c.String("category"),
				Sort:     c.String("sort"),
			})
			if err != nil {
				return err
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			pipeline, err := global.Setup(cfg)
			if err != nil {
				return err
			}

			result, err := pipeline.Aggregator.Events(context.Background())
			if err != nil {
				return err
			}

			events := query.Apply(result.Events, q)

			if c.Bool("pretty") {
				pretty.Println(events)
				if result.Stale {
					fmt.Fprintln(os.Stderr, "stale:", result.Warning)
				}
				return nil
			}

			eventsReduced, err := sheriff.Marshal(&sheriff.Options{
				Groups: []string{"basic", "detailed"},
			}, events)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{
				"events":    eventsReduced,
				"fetchedAt": result.FetchedAt,
				"stale":     result.Stale,
				"warning":   result.Warning,
			})
		},
	}
}
