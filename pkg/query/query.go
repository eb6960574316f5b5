// Package query filters and sorts event lists. It never modifies its input.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/slices"
)

type SortKey string

const (
	SortDelay  SortKey = "delay"
	SortLength SortKey = "length"
	SortRoad   SortKey = "road"

	DefaultSort = SortRoad
)

// missing is the value used for absent delay or length while sorting.
const missing = -1

// Query constrains on every non-zero field.
type Query struct {
	RoadType   traffic.RoadType
	RoadNumber int
	Category   traffic.Category
	Sort       SortKey
}

// Params is the raw caller input, as received in a query string or on the command line.
type Params struct {
	Road       string `query:"road" validate:"omitempty,max=6"`
	RoadType   string `query:"roadType" validate:"omitempty,oneof=A N a n"`
	RoadNumber string `query:"roadNumber" validate:"omitempty,numeric,max=3"`
	Category   string `query:"category" validate:"omitempty,oneof=jam accident"`
	Sort       string `query:"sort" validate:"omitempty,oneof=delay length road"`
}

var validate = validator.New()

// ParseQuery validates params and converts them. Road ("A8") is shorthand for
// roadType plus roadNumber.
func ParseQuery(params Params) (Query, error) {
	if err := validate.Struct(params); err != nil {
		return Query{}, err
	}

	q := Query{
		RoadType: traffic.RoadType(strings.ToUpper(params.RoadType)),
		Category: traffic.Category(params.Category),
		Sort:     SortKey(params.Sort),
	}

	if params.RoadNumber != "" {
		number, err := strconv.Atoi(params.RoadNumber)
		if err != nil || number <= 0 {
			return Query{}, fmt.Errorf("invalid road number %q", params.RoadNumber)
		}
		q.RoadNumber = number
	}

	if params.Road != "" {
		road, ok := traffic.ParseRoad(params.Road)
		if !ok {
			return Query{}, fmt.Errorf("invalid road %q", params.Road)
		}
		q.RoadType = road.Type
		q.RoadNumber = road.Number
	}

	if q.Sort == "" {
		q.Sort = DefaultSort
	}

	return q, nil
}

func (q Query) Matches(event *traffic.Event) bool {
	if q.RoadType != "" && event.RoadType != q.RoadType {
		return false
	}
	if q.RoadNumber != 0 && event.RoadNumber != q.RoadNumber {
		return false
	}
	if q.Category != "" && event.Category != q.Category {
		return false
	}
	return true
}

// Apply returns a new slice with the matching events in the requested order.
func Apply(events []*traffic.Event, q Query) []*traffic.Event {
	result := make([]*traffic.Event, 0, len(events))
	for _, event := range events {
		if q.Matches(event) {
			result = append(result, event)
		}
	}

	sortKey := q.Sort
	if sortKey == "" {
		sortKey = DefaultSort
	}

	slices.SortStableFunc(result, comparator(sortKey))

	return result
}

func comparator(key SortKey) func(a, b *traffic.Event) int {
	switch key {
	case SortDelay:
		return func(a, b *traffic.Event) int {
			return b.DelayOr(missing) - a.DelayOr(missing)
		}
	case SortLength:
		return func(a, b *traffic.Event) int {
			return compareDescending(a.LengthOr(missing), b.LengthOr(missing))
		}
	default:
		return compareRoad
	}
}

// compareRoad orders A before N, then by road number, then the worst event first.
func compareRoad(a, b *traffic.Event) int {
	if a.RoadType != b.RoadType {
		return strings.Compare(string(a.RoadType), string(b.RoadType))
	}
	if a.RoadNumber != b.RoadNumber {
		return a.RoadNumber - b.RoadNumber
	}
	if delay := b.DelayOr(missing) - a.DelayOr(missing); delay != 0 {
		return delay
	}
	return compareDescending(a.LengthOr(missing), b.LengthOr(missing))
}

func compareDescending(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
