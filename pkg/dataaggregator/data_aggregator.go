package dataaggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/cachestore"
	"github.com/clawbotneo/nl-verkeer/pkg/metrics"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL     = 2 * time.Minute
	DefaultTimeout = 8 * time.Second
)

type Mode string

const (
	ModePrimary         Mode = "primary"
	ModeScrapePreferred Mode = "scrape-preferred"
)

func (m Mode) Valid() bool {
	return m == ModePrimary || m == ModeScrapePreferred
}

// Result is what callers get back: the events plus whether they are stale.
type Result struct {
	Events    []*traffic.Event `json:"events"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Stale     bool             `json:"stale"`
	Warning   string           `json:"warning,omitempty"`
}

type Aggregator struct {
	Sources []DataSource

	Cache     *cachestore.Slot[traffic.Snapshot]
	Timeout   time.Duration
	Enricher  Enricher
	Persister SnapshotStore

	Now func() time.Time
}

var GlobalAggregator *Aggregator

func NewAggregator() *Aggregator {
	return &Aggregator{
		Cache:   cachestore.NewSlot[traffic.Snapshot](DefaultTTL),
		Timeout: DefaultTimeout,
		Now:     time.Now,
	}
}

func (a *Aggregator) RegisterSource(source DataSource) {
	a.Sources = append(a.Sources, source)

	log.Debug().Str("name", source.GetName()).Msg("Registering new Data Source")
}

// Events returns the current snapshot, refreshing it when older than the cache TTL.
// A failed refresh serves the previous snapshot marked stale; only when there is
// no previous snapshot is the failure returned.
func (a *Aggregator) Events(ctx context.Context) (*Result, error) {
	fresh := a.Cache.Fresh()

	entry, ok, err := a.Cache.Get(ctx, a.refresh)
	if err != nil && !ok {
		metrics.Responses.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("No snapshot available")
		return nil, err
	}

	result := &Result{
		Events:    entry.Value.Events,
		FetchedAt: entry.FetchedAt,
	}

	switch {
	case err != nil:
		result.Stale = true
		result.Warning = fmt.Sprintf("serving snapshot from %s: %s", entry.FetchedAt.UTC().Format(time.RFC3339), err)
		metrics.Responses.WithLabelValues("stale").Inc()
		log.Warn().Err(err).Time("fetchedat", entry.FetchedAt).Msg("Refresh failed, serving stale snapshot")
	case fresh:
		metrics.Responses.WithLabelValues("fresh").Inc()
	default:
		metrics.Responses.WithLabelValues("refreshed").Inc()
	}

	if a.Enricher != nil {
		enrichCtx, cancel := context.WithTimeout(ctx, a.timeout())
		result.Events = a.Enricher.Enrich(enrichCtx, result.Events)
		cancel()
	}

	return result, nil
}

// Restore seeds the cache from the persister, keeping the snapshot's original
// fetch time so it is only ever served as stale.
func (a *Aggregator) Restore(ctx context.Context) {
	if a.Persister == nil {
		return
	}

	snapshot, ok, err := a.Persister.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted snapshot")
		return
	}
	if !ok {
		return
	}

	if _, populated := a.Cache.Peek(); populated {
		return
	}

	a.Cache.Store(cachestore.Entry[traffic.Snapshot]{Value: snapshot, FetchedAt: snapshot.FetchedAt})
	log.Info().Int("events", len(snapshot.Events)).Time("fetchedat", snapshot.FetchedAt).Msg("Restored persisted snapshot")
}

func (a *Aggregator) refresh(ctx context.Context) (traffic.Snapshot, error) {
	// the refresh is shared by every waiting caller so it must not die with the first one
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout())
	defer cancel()

	if len(a.Sources) == 0 {
		return traffic.Snapshot{}, errors.New("no data sources registered")
	}

	var errs []error
	for _, source := range a.Sources {
		startTime := time.Now()
		events, err := source.Fetch(refreshCtx)
		metrics.RefreshDuration.WithLabelValues(source.GetName()).Observe(time.Since(startTime).Seconds())

		if err == nil {
			metrics.RefreshTotal.WithLabelValues(source.GetName(), "success").Inc()

			snapshot := traffic.Snapshot{FetchedAt: a.now(), Events: events}
			a.persist(ctx, snapshot)

			metrics.SnapshotEvents.Set(float64(len(events)))
			metrics.SnapshotTimestamp.Set(float64(snapshot.FetchedAt.Unix()))

			log.Info().
				Str("source", source.GetName()).
				Int("events", len(events)).
				Str("latency", time.Since(startTime).String()).
				Msg("Refreshed snapshot")

			return snapshot, nil
		}

		if errors.Is(refreshCtx.Err(), context.DeadlineExceeded) {
			err = &traffic.TimeoutError{Op: "refresh " + source.GetName(), After: a.timeout(), Err: err}
		}

		metrics.RefreshTotal.WithLabelValues(source.GetName(), "failure").Inc()
		log.Warn().Err(err).Str("source", source.GetName()).Msg("Data source failed")
		errs = append(errs, fmt.Errorf("%s: %w", source.GetName(), err))

		if refreshCtx.Err() != nil {
			break
		}
	}

	return traffic.Snapshot{}, errors.Join(errs...)
}

func (a *Aggregator) persist(ctx context.Context, snapshot traffic.Snapshot) {
	if a.Persister == nil {
		return
	}

	if err := a.Persister.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to persist snapshot")
	}
}

func (a *Aggregator) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *Aggregator) timeout() time.Duration {
	if a.Timeout <= 0 {
		return DefaultTimeout
	}
	return a.Timeout
}
