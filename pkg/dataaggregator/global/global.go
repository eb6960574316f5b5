// Package global wires the data sources, resolvers and caches into the process
// wide aggregator.
package global

import (
	"context"
	"fmt"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/cachestore"
	"github.com/clawbotneo/nl-verkeer/pkg/config"
	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator"
	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator/source/anwb"
	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator/source/ndw"
	"github.com/clawbotneo/nl-verkeer/pkg/datex"
	"github.com/clawbotneo/nl-verkeer/pkg/download"
	"github.com/clawbotneo/nl-verkeer/pkg/enrichment"
	"github.com/clawbotneo/nl-verkeer/pkg/locationtable"
	"github.com/clawbotneo/nl-verkeer/pkg/measurementsite"
	"github.com/clawbotneo/nl-verkeer/pkg/redis_client"
	"github.com/clawbotneo/nl-verkeer/pkg/scrape"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/clawbotneo/nl-verkeer/pkg/traveltime"
	"github.com/rs/zerolog/log"
)

// persistedSnapshotExpiry bounds how long a persisted snapshot may be restored.
const persistedSnapshotExpiry = 24 * time.Hour

type Pipeline struct {
	Aggregator *dataaggregator.Aggregator

	// Enricher is nil when no X credential is configured.
	Enricher *enrichment.Enricher
}

func Setup(cfg config.Config) (*Pipeline, error) {
	mode := dataaggregator.Mode(cfg.Mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	client := download.NewClient()

	locations := locationtable.NewResolver(cfg.Upstream.LocationTableURL, locationtable.FetcherFunc(func(ctx context.Context, source string) ([]byte, error) {
		return client.Fetch(ctx, source)
	}))
	locations.TableName = cfg.LocationTable.Name
	locations.CodeColumn = cfg.LocationTable.CodeColumn
	locations.RoadColumn = cfg.LocationTable.RoadColumn

	parser := datex.NewParser(locations)
	parser.IncidentDefaultCategory = traffic.Category(cfg.IncidentDefaultCategory)
	parser.SourceURLs[datex.FeedIncidents] = cfg.Upstream.IncidentsURL
	parser.SourceURLs[datex.FeedJams] = cfg.Upstream.JamsURL

	ndwSource := ndw.Source{
		Client:       client,
		Parser:       parser,
		IncidentsURL: cfg.Upstream.IncidentsURL,
		JamsURL:      cfg.Upstream.JamsURL,
	}

	if cfg.Upstream.TravelTimeURL != "" && cfg.Upstream.MeasurementSitesURL != "" {
		sites := measurementsite.NewResolver(ndw.StreamOpener(client, cfg.Upstream.MeasurementSitesURL), locations)

		detector := traveltime.NewDetector(ndw.StreamOpener(client, cfg.Upstream.TravelTimeURL), sites)
		detector.SourceURL = cfg.Upstream.TravelTimeURL

		ndwSource.Detector = detector
	}

	extractor := scrape.NewExtractor()
	extractor.Marker = cfg.Scrape.Marker
	extractor.Units = cfg.Scrape.Units
	extractor.SourceURL = cfg.Upstream.ScrapeURL

	anwbSource := anwb.Source{
		Client:    client,
		URL:       cfg.Upstream.ScrapeURL,
		Extractor: extractor,
	}

	aggregator := dataaggregator.NewAggregator()
	aggregator.Cache = cachestore.NewSlot[traffic.Snapshot](cfg.SnapshotTTL)
	aggregator.Timeout = cfg.Timeout

	switch mode {
	case dataaggregator.ModeScrapePreferred:
		aggregator.RegisterSource(anwbSource)
		aggregator.RegisterSource(ndwSource)
	default:
		aggregator.RegisterSource(ndwSource)
	}

	pipeline := &Pipeline{Aggregator: aggregator}

	if cfg.Enrichment.BearerToken != "" {
		enricher := enrichment.NewEnricher(cfg.Enrichment.BearerToken, client)
		enricher.Account = cfg.Enrichment.Account
		enricher.Concurrency = cfg.Enrichment.Concurrency

		aggregator.Enricher = enricher
		pipeline.Enricher = enricher
	}

	if err := redis_client.Connect(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, snapshots will not be persisted")
	} else if redis_client.Client != nil {
		aggregator.Persister = cachestore.NewRedisPersister(redis_client.Client, persistedSnapshotExpiry)
		aggregator.Restore(context.Background())
	}

	dataaggregator.GlobalAggregator = aggregator

	log.Info().
		Str("mode", string(mode)).
		Bool("traveltime", ndwSource.Detector != nil).
		Bool("enrichment", pipeline.Enricher != nil).
		Bool("persistence", aggregator.Persister != nil).
		Msg("Data aggregator ready")

	return pipeline, nil
}
