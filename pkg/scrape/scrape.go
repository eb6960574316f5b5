// Package scrape extracts traffic events from the structured data embedded in the
// ANWB traffic page.
package scrape

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/clawbotneo/nl-verkeer/pkg/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const DefaultMarker = "__NEXT_DATA__"

// UnitPolicy decides the unit of distance and delay values, which the page does
// not state. Distances above MetersAbove are meters, otherwise kilometres. Delays
// above SecondsAbove are seconds, otherwise minutes.
type UnitPolicy struct {
	MetersAbove  float64 `yaml:"metersAbove" validate:"gte=0"`
	SecondsAbove float64 `yaml:"secondsAbove" validate:"gte=0"`
}

var DefaultUnitPolicy = UnitPolicy{MetersAbove: 50, SecondsAbove: 180}

func (p UnitPolicy) Kilometres(distance float64) float64 {
	if distance > p.MetersAbove {
		distance = distance / 1000
	}
	return traffic.RoundTo1(distance)
}

func (p UnitPolicy) Minutes(delay float64) int {
	if delay > p.SecondsAbove {
		delay = delay / 60
	}
	return int(math.Round(delay))
}

var categories = map[string]traffic.Category{
	"jam":       traffic.CategoryJam,
	"jams":      traffic.CategoryJam,
	"accident":  traffic.CategoryAccident,
	"accidents": traffic.CategoryAccident,
}

type Extractor struct {
	Marker    string
	Units     UnitPolicy
	SourceURL string

	Now func() time.Time
}

func NewExtractor() *Extractor {
	return &Extractor{
		Marker: DefaultMarker,
		Units:  DefaultUnitPolicy,
		Now:    time.Now,
	}
}

func (e *Extractor) Extract(pageHTML []byte) ([]*traffic.Event, error) {
	document, err := e.embeddedData(pageHTML)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now()
	if e.Now != nil {
		fetchedAt = e.Now()
	}

	events := []*traffic.Event{}
	skipped := 0

	for _, segment := range FindSegments(document) {
		event, ok := e.event(segment, fetchedAt)
		if !ok {
			skipped++
			continue
		}
		events = append(events, event)
	}

	log.Debug().Int("events", len(events)).Int("skipped", skipped).Msg("Extracted scraped events")

	return events, nil
}

func (e *Extractor) marker() string {
	if e.Marker == "" {
		return DefaultMarker
	}
	return e.Marker
}

// embeddedData finds the JSON block, preferring a <script id=marker> element and
// falling back to the first JSON value after the marker text.
func (e *Extractor) embeddedData(pageHTML []byte) (any, error) {
	marker := e.marker()

	raw := scriptContent(pageHTML, marker)
	if raw == nil {
		index := bytes.Index(pageHTML, []byte(marker))
		if index < 0 {
			return nil, &traffic.ParseError{Source: "scrape", Reason: "marker " + marker + " not found"}
		}

		rest := pageHTML[index+len(marker):]
		start := bytes.IndexAny(rest, "{[")
		if start < 0 {
			return nil, &traffic.ParseError{Source: "scrape", Reason: "no data after marker"}
		}
		raw = rest[start:]
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, &traffic.ParseError{Source: "scrape", Reason: "embedded json", Err: err}
	}

	return document, nil
}

func scriptContent(pageHTML []byte, marker string) []byte {
	tokenizer := html.NewTokenizer(bytes.NewReader(pageHTML))
	inScript := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if !errors.Is(tokenizer.Err(), io.EOF) {
				log.Debug().Err(tokenizer.Err()).Msg("HTML tokenizer stopped")
			}
			return nil
		case html.StartTagToken:
			token := tokenizer.Token()
			if token.Data != "script" {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key == "id" && attr.Val == marker {
					inScript = true
				}
			}
		case html.TextToken:
			if inScript {
				return bytes.TrimSpace(tokenizer.Text())
			}
		case html.EndTagToken:
			inScript = false
		}
	}
}

// Segment is a substructure shaped like a traffic record.
type Segment struct {
	ID       int64
	Road     string
	Category string
	Fields   map[string]any
}

// MatchSegment reports whether node is an object with a numeric id, a string
// road and a string category.
func MatchSegment(node any) (Segment, bool) {
	object, ok := node.(map[string]any)
	if !ok {
		return Segment{}, false
	}

	id, ok := integer(object["id"])
	if !ok {
		return Segment{}, false
	}

	road, ok := object["road"].(string)
	if !ok {
		return Segment{}, false
	}

	category, ok := object["category"].(string)
	if !ok {
		return Segment{}, false
	}

	return Segment{ID: id, Road: road, Category: category, Fields: object}, true
}

// FindSegments walks the whole document and returns every matching substructure.
// Matches are not searched further, and repeated ids are returned once.
func FindSegments(node any) []Segment {
	var segments []Segment
	seen := map[int64]bool{}

	var walk func(any)
	walk = func(node any) {
		if segment, ok := MatchSegment(node); ok {
			if !seen[segment.ID] {
				seen[segment.ID] = true
				segments = append(segments, segment)
			}
			return
		}

		switch ty := node.(type) {
		case map[string]any:
			for _, key := range sortedKeys(ty) {
				walk(ty[key])
			}
		case []any:
			for _, child := range ty {
				walk(child)
			}
		}
	}
	walk(node)

	return segments
}

func (e *Extractor) event(segment Segment, fetchedAt time.Time) (*traffic.Event, bool) {
	road, ok := traffic.ParseRoad(segment.Road)
	if !ok {
		return nil, false
	}

	category, ok := categories[strings.ToLower(strings.TrimSpace(segment.Category))]
	if !ok {
		return nil, false
	}

	fields := segment.Fields

	event := &traffic.Event{
		ID:           "anwb:" + strconv.FormatInt(segment.ID, 10),
		Category:     category,
		LocationText: stringField(fields, "location"),
		Direction:    stringField(fields, "direction"),
		From:         stringField(fields, "from"),
		To:           stringField(fields, "to"),
		ReasonText:   reasonText(fields),
		LastUpdated:  updatedAt(fields, fetchedAt),
		Source:       traffic.SourceScrape,
		SourceURL:    e.SourceURL,
	}
	event.SetRoad(road)

	if distance, ok := number(fields["distance"]); ok && distance >= 0 {
		event.LengthKm = traffic.Float(e.Units.Kilometres(distance))
	}
	if delay, ok := number(fields["delay"]); ok && delay >= 0 {
		event.DelayMin = traffic.Int(e.Units.Minutes(delay))
	}

	return event, true
}

func reasonText(fields map[string]any) string {
	var phrases []string

	for _, key := range []string{"reason", "cause", "description"} {
		phrases = append(phrases, util.SplitSentences(stringField(fields, key))...)
	}

	if events, ok := fields["events"].([]any); ok {
		for _, item := range events {
			if object, ok := item.(map[string]any); ok {
				phrases = append(phrases, util.SplitSentences(stringField(object, "text"))...)
			}
		}
	}

	return util.JoinSentences(util.RemoveDuplicatePhrases(phrases))
}

func updatedAt(fields map[string]any, fallback time.Time) time.Time {
	for _, key := range []string{"updated", "lastUpdate"} {
		switch value := fields[key].(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339, value); err == nil {
				return parsed
			}
		case json.Number:
			if epoch, err := value.Int64(); err == nil && epoch > 0 {
				if epoch > 1e12 {
					return time.UnixMilli(epoch).UTC()
				}
				return time.Unix(epoch, 0).UTC()
			}
		}
	}
	return fallback
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	return strings.TrimSpace(value)
}

func number(value any) (float64, bool) {
	switch ty := value.(type) {
	case json.Number:
		f, err := ty.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case float64:
		return ty, !math.IsNaN(ty) && !math.IsInf(ty, 0)
	}
	return 0, false
}

func integer(value any) (int64, bool) {
	switch ty := value.(type) {
	case json.Number:
		if i, err := ty.Int64(); err == nil {
			return i, true
		}
	case float64:
		if ty == math.Trunc(ty) {
			return int64(ty), true
		}
	}
	return 0, false
}
