package datex

import (
	"context"
	"strings"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
)

// LocationResolver turns an Alert-C location code into a road code.
type LocationResolver interface {
	Resolve(ctx context.Context, locationCode string) (string, bool, error)
}

// RoadStrategy derives the road of a situation record. Strategies are tried in
// order and the first one returning ok wins.
type RoadStrategy interface {
	Name() string
	Road(ctx context.Context, record *Node) (traffic.Road, bool, error)
}

// DefaultRoadStrategies is the chain used for the NDW feeds.
func DefaultRoadStrategies(locations LocationResolver) []RoadStrategy {
	return []RoadStrategy{
		StructuredRoadStrategy{},
		CommentRoadStrategy{},
		AlertCRoadStrategy{Locations: locations},
	}
}

// StructuredRoadStrategy reads explicit roadNumber or roadName elements.
type StructuredRoadStrategy struct{}

func (StructuredRoadStrategy) Name() string { return "structured" }

func (StructuredRoadStrategy) Road(ctx context.Context, record *Node) (traffic.Road, bool, error) {
	for _, field := range []string{"roadNumber", "roadName"} {
		for _, node := range record.FindAll(field) {
			for _, text := range node.Texts() {
				if road, ok := traffic.ParseRoad(text); ok {
					return road, true, nil
				}
				if road, ok := traffic.FindRoad(text); ok {
					return road, true, nil
				}
			}
		}
	}

	return traffic.Road{}, false, nil
}

// CommentRoadStrategy searches the public comments for a road code.
type CommentRoadStrategy struct{}

func (CommentRoadStrategy) Name() string { return "comment" }

func (CommentRoadStrategy) Road(ctx context.Context, record *Node) (traffic.Road, bool, error) {
	for _, comment := range record.FindAll("generalPublicComment") {
		if road, ok := traffic.FindRoad(strings.Join(comment.Texts(), " ")); ok {
			return road, true, nil
		}
	}

	return traffic.Road{}, false, nil
}

// AlertCRoadStrategy looks up Alert-C location codes in the location table. Both
// the v2 groupOfLocations and the v3 locationReference subtrees are searched.
type AlertCRoadStrategy struct {
	Locations LocationResolver
}

func (AlertCRoadStrategy) Name() string { return "alert-c" }

func (s AlertCRoadStrategy) Road(ctx context.Context, record *Node) (traffic.Road, bool, error) {
	if s.Locations == nil {
		return traffic.Road{}, false, nil
	}

	var containers []*Node
	containers = append(containers, record.FindAll("groupOfLocations")...)
	containers = append(containers, record.FindAll("locationReference")...)

	for _, container := range containers {
		for _, location := range container.FindAll("specificLocation") {
			if location.Text == "" {
				continue
			}

			roadCode, ok, err := s.Locations.Resolve(ctx, location.Text)
			if err != nil {
				return traffic.Road{}, false, err
			}
			if !ok {
				continue
			}

			if road, ok := traffic.ParseRoad(roadCode); ok {
				return road, true, nil
			}
		}
	}

	return traffic.Road{}, false, nil
}
