// Package datex turns NDW DATEX II situation publications into traffic events.
package datex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/download"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/clawbotneo/nl-verkeer/pkg/util"
	"github.com/rs/zerolog/log"
)

type FeedKind string

const (
	FeedIncidents FeedKind = "incidents"
	FeedJams      FeedKind = "jams"
)

// IncidentDefaultCategory is where incident records end up unless their subtype
// names an accident.
const IncidentDefaultCategory = traffic.CategoryAccident

// Envelope locates the payload of one DATEX II publication shape.
type Envelope struct {
	Name string
	Path []string
}

var Envelopes = []Envelope{
	{Name: "datex2-v2", Path: []string{"d2LogicalModel", "payloadPublication"}},
	{Name: "datex2-v3", Path: []string{"messageContainer", "payload"}},
}

type Parser struct {
	RoadStrategies          []RoadStrategy
	IncidentDefaultCategory traffic.Category

	// SourceURLs is copied onto each event of the matching feed.
	SourceURLs map[FeedKind]string

	Now func() time.Time
}

func NewParser(locations LocationResolver) *Parser {
	return &Parser{
		RoadStrategies:          DefaultRoadStrategies(locations),
		IncidentDefaultCategory: IncidentDefaultCategory,
		SourceURLs:              map[FeedKind]string{},
		Now:                     time.Now,
	}
}

func (p *Parser) Parse(ctx context.Context, feed []byte, kind FeedKind) ([]*traffic.Event, error) {
	data, err := download.Decompress(feed)
	if err != nil {
		return nil, &traffic.ParseError{Source: string(kind), Reason: "decompress", Err: err}
	}

	root, err := ParseNodes(data)
	if err != nil {
		return nil, &traffic.ParseError{Source: string(kind), Reason: "xml", Err: err}
	}

	payload, envelope := FindPayload(root)
	if payload == nil {
		return nil, &traffic.ParseError{Source: string(kind), Reason: fmt.Sprintf("no publication envelope under <%s>", root.Name)}
	}

	publicationTime, ok := parsePublicationTime(payload.FindText("publicationTime"))
	if !ok {
		publicationTime = p.now()
	}

	events := []*traffic.Event{}
	dropped := 0

	for _, record := range payload.FindAll("situationRecord") {
		if kind == FeedJams && !isJamRecord(record) {
			continue
		}

		event, err := p.parseRecord(ctx, record, kind, publicationTime)
		if err != nil {
			var resolutionError *traffic.ResolutionError
			if errors.As(err, &resolutionError) {
				return nil, err
			}

			log.Debug().Err(err).Str("record", record.Attributes["id"]).Msg("Dropped situation record")
			dropped++
			continue
		}
		if event == nil {
			dropped++
			continue
		}

		events = append(events, event)
	}

	log.Debug().
		Str("feed", string(kind)).
		Str("envelope", envelope.Name).
		Int("events", len(events)).
		Int("dropped", dropped).
		Msg("Parsed DATEX publication")

	return events, nil
}

// FindPayload tries each envelope shape in order, looking through a SOAP
// Envelope/Body wrapper when present.
func FindPayload(root *Node) (*Node, Envelope) {
	document := root
	if root.Name == "Envelope" {
		document = root.Child("Body")
		if document == nil || len(document.Children) == 0 {
			return nil, Envelope{}
		}
		document = document.Children[0]
	}

	for _, envelope := range Envelopes {
		if document.Name != envelope.Path[0] {
			continue
		}
		if payload := document.Path(envelope.Path[1:]...); payload != nil {
			return payload, envelope
		}
	}

	return nil, Envelope{}
}

func isJamRecord(record *Node) bool {
	return record.Type() == "AbnormalTraffic" || record.Find("abnormalTrafficType") != nil
}

func (p *Parser) parseRecord(ctx context.Context, record *Node, kind FeedKind, publicationTime time.Time) (*traffic.Event, error) {
	id := record.Attributes["id"]
	if id == "" {
		return nil, nil
	}

	road, ok, err := p.road(ctx, record)
	if err != nil || !ok {
		return nil, err
	}

	from, to := locationNames(record)

	event := &traffic.Event{
		ID:           "ndw:" + id,
		Category:     p.category(record, kind),
		LocationText: locationText(record),
		Direction:    direction(record),
		From:         from,
		To:           to,
		ReasonText:   util.JoinSentences(util.RemoveDuplicatePhrases(commentText(record))),
		LengthKm:     lengthKm(record),
		DelayMin:     delayMin(record),
		LastUpdated:  publicationTime,
		Source:       traffic.SourcePrimaryFeed,
		SourceURL:    p.SourceURLs[kind],
	}
	event.SetRoad(road)

	return event, nil
}

func (p *Parser) road(ctx context.Context, record *Node) (traffic.Road, bool, error) {
	for _, strategy := range p.RoadStrategies {
		road, ok, err := strategy.Road(ctx, record)
		if err != nil {
			return traffic.Road{}, false, err
		}
		if ok {
			return road, true, nil
		}
	}

	return traffic.Road{}, false, nil
}

func (p *Parser) category(record *Node, kind FeedKind) traffic.Category {
	if kind == FeedJams {
		return traffic.CategoryJam
	}

	if strings.Contains(strings.ToLower(record.Type()), "accident") {
		return traffic.CategoryAccident
	}

	if p.IncidentDefaultCategory.Valid() {
		return p.IncidentDefaultCategory
	}
	return IncidentDefaultCategory
}

func (p *Parser) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
