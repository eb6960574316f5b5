// Package traveltime detects jams from raw travel-time measurements by comparing
// current travel times against the free-flow reference.
package traveltime

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/measurementsite"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
	"golang.org/x/net/html/charset"
)

const (
	DefaultCap = 200

	// MinimumDelay is the smallest delay in minutes that counts as a jam.
	MinimumDelay = 5
	bucketSize   = 5

	minimumLengthKm = 0.1
)

// DefaultSpeeds are the assumed free-flow speeds in km/h used to estimate jam length.
var DefaultSpeeds = map[traffic.RoadType]float64{
	traffic.RoadTypeA: 100,
	traffic.RoadTypeN: 80,
}

type SiteResolver interface {
	Resolve(ctx context.Context, wanted []string) (map[string]measurementsite.Site, error)
}

// Opener opens a decompressed travel-time publication.
type Opener func(ctx context.Context) (io.ReadCloser, error)

type Detector struct {
	Open      Opener
	Sites     SiteResolver
	Cap       int
	Speeds    map[traffic.RoadType]float64
	SourceURL string

	Now func() time.Time
}

func NewDetector(open Opener, sites SiteResolver) *Detector {
	return &Detector{
		Open:   open,
		Sites:  sites,
		Cap:    DefaultCap,
		Speeds: DefaultSpeeds,
		Now:    time.Now,
	}
}

// Measurement is one site's current and reference travel time in seconds.
type Measurement struct {
	SiteID    string
	Current   float64
	Reference float64
	Time      time.Time
}

// Candidate is a measurement whose delay qualified as a jam.
type Candidate struct {
	Measurement
	DelayMin int
}

func (d *Detector) Detect(ctx context.Context) ([]*traffic.Event, error) {
	measurements, err := d.measurements(ctx)
	if err != nil {
		return nil, err
	}

	candidates := Rank(measurements, d.cap())
	if len(candidates) == 0 {
		return []*traffic.Event{}, nil
	}

	wanted := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		wanted = append(wanted, candidate.SiteID)
	}

	sites, err := d.Sites.Resolve(ctx, wanted)
	if err != nil {
		return nil, err
	}

	events := []*traffic.Event{}
	for _, candidate := range candidates {
		site, ok := sites[candidate.SiteID]
		if !ok {
			continue
		}

		road, ok := traffic.ParseRoad(site.RoadCode)
		if !ok {
			continue
		}

		lastUpdated := candidate.Time
		if lastUpdated.IsZero() {
			lastUpdated = d.now()
		}

		event := &traffic.Event{
			ID:           "ndw-tt:" + candidate.SiteID,
			Category:     traffic.CategoryJam,
			LocationText: site.Name,
			LengthKm:     traffic.Float(d.EstimateLength(road.Type, candidate.Reference)),
			DelayMin:     traffic.Int(candidate.DelayMin),
			LastUpdated:  lastUpdated,
			Source:       traffic.SourcePrimaryFeed,
			SourceURL:    d.SourceURL,
		}
		event.SetRoad(road)

		events = append(events, event)
	}

	log.Debug().
		Int("measurements", len(measurements)).
		Int("candidates", len(candidates)).
		Int("events", len(events)).
		Msg("Travel time jam detection")

	return events, nil
}

// BucketDelay rounds a raw delay in minutes to the nearest multiple of five.
// Delays under the minimum, before or after rounding, are not jams.
func BucketDelay(rawMinutes float64) (int, bool) {
	if math.IsNaN(rawMinutes) || math.IsInf(rawMinutes, 0) || rawMinutes < MinimumDelay {
		return 0, false
	}

	rounded := int(math.Round(rawMinutes/bucketSize) * bucketSize)
	if rounded < MinimumDelay {
		return 0, false
	}

	return rounded, true
}

// Rank keeps qualifying measurements, ordered by descending delay, at most limit long.
func Rank(measurements []Measurement, limit int) []Candidate {
	candidates := []Candidate{}

	for _, measurement := range measurements {
		if !usable(measurement.Current) || !usable(measurement.Reference) {
			continue
		}

		delay, ok := BucketDelay((measurement.Current - measurement.Reference) / 60)
		if !ok {
			continue
		}

		candidates = append(candidates, Candidate{Measurement: measurement, DelayMin: delay})
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return b.DelayMin - a.DelayMin
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates
}

// EstimateLength approximates the jammed stretch from the free-flow travel time.
func (d *Detector) EstimateLength(roadType traffic.RoadType, referenceSeconds float64) float64 {
	speeds := d.Speeds
	if speeds == nil {
		speeds = DefaultSpeeds
	}

	length := traffic.RoundTo1(referenceSeconds / 3600 * speeds[roadType])
	if length < minimumLengthKm {
		return minimumLengthKm
	}
	return length
}

func usable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func (d *Detector) cap() int {
	if d.Cap <= 0 {
		return DefaultCap
	}
	return d.Cap
}

func (d *Detector) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// element is a generic XML subtree used to decode one siteMeasurements block.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

func (e *element) find(name string) *element {
	for i := range e.Children {
		child := &e.Children[i]
		if child.XMLName.Local == name {
			return child
		}
		if found := child.find(name); found != nil {
			return found
		}
	}
	return nil
}

func (e *element) attr(name string) string {
	for _, attr := range e.Attrs {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func (e *element) duration(names ...string) (float64, bool) {
	for _, name := range names {
		container := e.find(name)
		if container == nil {
			continue
		}

		duration := container.find("duration")
		if duration == nil {
			continue
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(duration.Text), 64)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}

func (d *Detector) measurements(ctx context.Context) ([]Measurement, error) {
	reader, err := d.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	decoder := xml.NewDecoder(reader)
	decoder.CharsetReader = charset.NewReaderLabel

	measurements := []Measurement{}
	seen := map[string]bool{}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, &traffic.ParseError{Source: "travel times", Reason: "xml token", Err: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "siteMeasurements" {
			continue
		}

		var block element
		if err := decoder.DecodeElement(&block, &start); err != nil {
			return nil, &traffic.ParseError{Source: "travel times", Reason: "siteMeasurements", Err: err}
		}

		measurement, ok := parseSiteMeasurements(&block)
		if !ok || seen[measurement.SiteID] {
			continue
		}
		seen[measurement.SiteID] = true
		measurements = append(measurements, measurement)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return measurements, nil
}

func parseSiteMeasurements(block *element) (Measurement, bool) {
	reference := block.find("measurementSiteReference")
	if reference == nil || reference.attr("id") == "" {
		return Measurement{}, false
	}

	current, ok := block.duration("travelTime")
	if !ok {
		return Measurement{}, false
	}

	freeFlow, ok := block.duration("freeFlowTravelTime", "normallyExpectedTravelTime")
	if !ok {
		return Measurement{}, false
	}

	measurement := Measurement{
		SiteID:    reference.attr("id"),
		Current:   current,
		Reference: freeFlow,
	}

	if timeDefault := block.find("measurementTimeDefault"); timeDefault != nil {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(timeDefault.Text)); err == nil {
			measurement.Time = parsed
		}
	}

	return measurement, true
}
