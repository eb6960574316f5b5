package traffic

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type RoadType string

const (
	RoadTypeA RoadType = "A"
	RoadTypeN RoadType = "N"
)

func (t RoadType) Valid() bool {
	return t == RoadTypeA || t == RoadTypeN
}

// Road identifies a Dutch motorway (A) or provincial/national road (N).
type Road struct {
	Type   RoadType
	Number int
}

func (r Road) Code() string {
	return fmt.Sprintf("%s%d", r.Type, r.Number)
}

func (r Road) Valid() bool {
	return r.Type.Valid() && r.Number > 0 && r.Number < 1000
}

var (
	roadExactRegex = regexp.MustCompile(`^([AN])\s*-?\s*(\d{1,3})$`)
	roadFindRegex  = regexp.MustCompile(`\b([AN])[\s-]?(\d{1,3})\b`)
)

// ParseRoad accepts a road code such as "A8", "a 8" or "N-35".
func ParseRoad(value string) (Road, bool) {
	matches := roadExactRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(value)))
	if matches == nil {
		return Road{}, false
	}

	return newRoad(matches[1], matches[2])
}

// FindRoad extracts the first road code mentioned anywhere in free text.
func FindRoad(text string) (Road, bool) {
	for _, matches := range roadFindRegex.FindAllStringSubmatch(text, -1) {
		if road, ok := newRoad(matches[1], matches[2]); ok {
			return road, true
		}
	}

	return Road{}, false
}

func newRoad(roadType string, number string) (Road, bool) {
	n, err := strconv.Atoi(number)
	if err != nil {
		return Road{}, false
	}

	road := Road{Type: RoadType(roadType), Number: n}
	return road, road.Valid()
}

// RoundTo1 rounds to one decimal place.
func RoundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}

func Float(v float64) *float64 {
	return &v
}

func Int(v int) *int {
	return &v
}
