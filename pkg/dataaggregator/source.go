package dataaggregator

import (
	"context"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
)

// DataSource produces a complete event list from one upstream.
type DataSource interface {
	GetName() string
	Fetch(ctx context.Context) ([]*traffic.Event, error)
}

type Enricher interface {
	Enrich(ctx context.Context, events []*traffic.Event) []*traffic.Event
}

// SnapshotStore persists the last good snapshot across restarts.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot traffic.Snapshot) error
	Load(ctx context.Context) (traffic.Snapshot, bool, error)
}
