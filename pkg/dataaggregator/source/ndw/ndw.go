// Package ndw is the primary data source: the NDW incident and jam publications
// plus jams detected from travel times.
package ndw

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/clawbotneo/nl-verkeer/pkg/datex"
	"github.com/clawbotneo/nl-verkeer/pkg/download"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultIncidentsURL     = "https://opendata.ndw.nu/incidents.xml.gz"
	DefaultJamsURL          = "https://opendata.ndw.nu/actuele_statusberichten.xml.gz"
	DefaultTravelTimeURL    = "https://opendata.ndw.nu/traveltime.xml.gz"
	DefaultMeasurementURL   = "https://opendata.ndw.nu/measurement_current.xml.gz"
	DefaultLocationTableURL = "https://opendata.ndw.nu/VILD6.13.A.zip"
)

type Fetcher interface {
	Fetch(ctx context.Context, source string, options ...download.RequestOption) ([]byte, error)
}

// Detector finds jams that the publications do not report.
type Detector interface {
	Detect(ctx context.Context) ([]*traffic.Event, error)
}

type Source struct {
	Client       Fetcher
	Parser       *datex.Parser
	Detector     Detector
	IncidentsURL string
	JamsURL      string
}

func (s Source) GetName() string {
	return "ndw"
}

type feedResult struct {
	name     string
	events   []*traffic.Event
	err      error
	required bool
}

// Fetch runs both publications and the detector concurrently. The publications
// are required; a detector failure only loses the detected jams.
func (s Source) Fetch(ctx context.Context) ([]*traffic.Event, error) {
	p := pool.NewWithResults[feedResult]()

	p.Go(func() feedResult {
		events, err := s.feed(ctx, s.IncidentsURL, datex.FeedIncidents)
		return feedResult{name: "incidents", events: events, err: err, required: true}
	})
	p.Go(func() feedResult {
		events, err := s.feed(ctx, s.JamsURL, datex.FeedJams)
		return feedResult{name: "jams", events: events, err: err, required: true}
	})
	if s.Detector != nil {
		p.Go(func() feedResult {
			events, err := s.Detector.Detect(ctx)
			return feedResult{name: "traveltime", events: events, err: err}
		})
	}

	results := map[string]feedResult{}
	var errs []error

	for _, result := range p.Wait() {
		if result.err != nil {
			if result.required {
				errs = append(errs, fmt.Errorf("%s feed: %w", result.name, result.err))
			} else {
				log.Warn().Err(result.err).Str("feed", result.name).Msg("Optional feed failed")
			}
			continue
		}
		results[result.name] = result
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return Merge(results["incidents"].events, results["jams"].events, results["traveltime"].events), nil
}

// Merge combines the feeds. Detected jams on roads that already have a published
// jam are dropped, as are repeated ids.
func Merge(incidents []*traffic.Event, jams []*traffic.Event, detected []*traffic.Event) []*traffic.Event {
	events := make([]*traffic.Event, 0, len(incidents)+len(jams)+len(detected))
	seen := map[string]bool{}
	jammedRoads := map[string]bool{}

	add := func(event *traffic.Event) {
		if seen[event.ID] {
			return
		}
		seen[event.ID] = true
		events = append(events, event)
	}

	for _, event := range incidents {
		add(event)
	}
	for _, event := range jams {
		jammedRoads[event.RoadCode] = true
		add(event)
	}
	for _, event := range detected {
		if jammedRoads[event.RoadCode] {
			continue
		}
		add(event)
	}

	return events
}

func (s Source) feed(ctx context.Context, url string, kind datex.FeedKind) ([]*traffic.Event, error) {
	body, err := s.Client.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	return s.Parser.Parse(ctx, body, kind)
}

// StreamOpener adapts a streaming download to the opener used by the
// measurement site resolver and the travel time detector.
func StreamOpener(client *download.Client, url string) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return client.Stream(ctx, url)
	}
}
