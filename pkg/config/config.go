// Package config loads the service configuration: built-in defaults, overridden
// by an optional YAML file, overridden by NLVERKEER_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator"
	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator/source/anwb"
	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator/source/ndw"
	"github.com/clawbotneo/nl-verkeer/pkg/enrichment"
	"github.com/clawbotneo/nl-verkeer/pkg/locationtable"
	"github.com/clawbotneo/nl-verkeer/pkg/scrape"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/clawbotneo/nl-verkeer/pkg/util"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type UpstreamConfig struct {
	IncidentsURL        string `yaml:"incidentsURL" validate:"required,url"`
	JamsURL             string `yaml:"jamsURL" validate:"required,url"`
	TravelTimeURL       string `yaml:"travelTimeURL" validate:"omitempty,url"`
	MeasurementSitesURL string `yaml:"measurementSitesURL" validate:"omitempty,url"`
	LocationTableURL    string `yaml:"locationTableURL" validate:"required,url"`
	ScrapeURL           string `yaml:"scrapeURL" validate:"required,url"`
}

type LocationTableConfig struct {
	Name       string `yaml:"name" validate:"required"`
	CodeColumn string `yaml:"codeColumn" validate:"required"`
	RoadColumn string `yaml:"roadColumn" validate:"required"`
}

type EnrichmentConfig struct {
	BearerToken string `yaml:"bearerToken"`
	Account     string `yaml:"account" validate:"required"`
	Concurrency int    `yaml:"concurrency" validate:"gte=1,lte=64"`
}

type ScrapeConfig struct {
	Marker string            `yaml:"marker" validate:"required"`
	Units  scrape.UnitPolicy `yaml:"units"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database" validate:"gte=0"`
}

type Config struct {
	Listen                  string              `yaml:"listen" validate:"required"`
	Mode                    string              `yaml:"mode" validate:"oneof=primary scrape-preferred"`
	Timeout                 time.Duration       `yaml:"timeout" validate:"gt=0"`
	SnapshotTTL             time.Duration       `yaml:"snapshotTTL" validate:"gt=0"`
	IncidentDefaultCategory string              `yaml:"incidentDefaultCategory" validate:"oneof=jam accident"`
	Upstream                UpstreamConfig      `yaml:"upstream"`
	LocationTable           LocationTableConfig `yaml:"locationTable"`
	Enrichment              EnrichmentConfig    `yaml:"enrichment"`
	Scrape                  ScrapeConfig        `yaml:"scrape"`
	Redis                   RedisConfig         `yaml:"redis"`
}

func Default() Config {
	return Config{
		Listen:                  ":8080",
		Mode:                    string(dataaggregator.ModePrimary),
		Timeout:                 dataaggregator.DefaultTimeout,
		SnapshotTTL:             dataaggregator.DefaultTTL,
		IncidentDefaultCategory: string(traffic.CategoryAccident),
		Upstream: UpstreamConfig{
			IncidentsURL:        ndw.DefaultIncidentsURL,
			JamsURL:             ndw.DefaultJamsURL,
			TravelTimeURL:       ndw.DefaultTravelTimeURL,
			MeasurementSitesURL: ndw.DefaultMeasurementURL,
			LocationTableURL:    ndw.DefaultLocationTableURL,
			ScrapeURL:           anwb.DefaultURL,
		},
		LocationTable: LocationTableConfig{
			Name:       locationtable.DefaultTableName,
			CodeColumn: locationtable.DefaultCodeColumn,
			RoadColumn: locationtable.DefaultRoadColumn,
		},
		Enrichment: EnrichmentConfig{
			Account:     enrichment.DefaultAccount,
			Concurrency: enrichment.DefaultConcurrency,
		},
		Scrape: ScrapeConfig{
			Marker: scrape.DefaultMarker,
			Units:  scrape.DefaultUnitPolicy,
		},
	}
}

// Load builds the configuration. path may be empty, in which case NLVERKEER_CONFIG
// is consulted before falling back to defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	env := util.GetEnvironmentVariables()

	if path == "" {
		path = env["NLVERKEER_CONFIG"]
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvironment(&cfg, env)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnvironment(cfg *Config, env map[string]string) {
	settings := map[string]*string{
		"NLVERKEER_LISTEN":                    &cfg.Listen,
		"NLVERKEER_MODE":                      &cfg.Mode,
		"NLVERKEER_INCIDENT_DEFAULT_CATEGORY": &cfg.IncidentDefaultCategory,
		"NLVERKEER_INCIDENTS_URL":             &cfg.Upstream.IncidentsURL,
		"NLVERKEER_JAMS_URL":                  &cfg.Upstream.JamsURL,
		"NLVERKEER_TRAVELTIME_URL":            &cfg.Upstream.TravelTimeURL,
		"NLVERKEER_MEASUREMENT_SITES_URL":     &cfg.Upstream.MeasurementSitesURL,
		"NLVERKEER_LOCATION_TABLE_URL":        &cfg.Upstream.LocationTableURL,
		"NLVERKEER_SCRAPE_URL":                &cfg.Upstream.ScrapeURL,
		"NLVERKEER_LOCATION_TABLE_NAME":       &cfg.LocationTable.Name,
		"NLVERKEER_LOCATION_CODE_COLUMN":      &cfg.LocationTable.CodeColumn,
		"NLVERKEER_LOCATION_ROAD_COLUMN":      &cfg.LocationTable.RoadColumn,
		"NLVERKEER_X_BEARER_TOKEN":            &cfg.Enrichment.BearerToken,
		"NLVERKEER_X_ACCOUNT":                 &cfg.Enrichment.Account,
		"NLVERKEER_SCRAPE_MARKER":             &cfg.Scrape.Marker,
		"NLVERKEER_REDIS_ADDRESS":             &cfg.Redis.Address,
		"NLVERKEER_REDIS_PASSWORD":            &cfg.Redis.Password,
	}
	for key, target := range settings {
		if value, ok := env[key]; ok && value != "" {
			*target = value
		}
	}

	cfg.Enrichment.Concurrency = util.EnvInt(env, "NLVERKEER_X_CONCURRENCY", cfg.Enrichment.Concurrency)
	cfg.Redis.Database = util.EnvInt(env, "NLVERKEER_REDIS_DATABASE", cfg.Redis.Database)
	cfg.Scrape.Units.MetersAbove = util.EnvFloat(env, "NLVERKEER_SCRAPE_METERS_ABOVE", cfg.Scrape.Units.MetersAbove)
	cfg.Scrape.Units.SecondsAbove = util.EnvFloat(env, "NLVERKEER_SCRAPE_SECONDS_ABOVE", cfg.Scrape.Units.SecondsAbove)
	cfg.Timeout = util.EnvDuration(env, "NLVERKEER_TIMEOUT", cfg.Timeout)
	cfg.SnapshotTTL = util.EnvDuration(env, "NLVERKEER_SNAPSHOT_TTL", cfg.SnapshotTTL)
}
