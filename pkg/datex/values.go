package datex

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/clawbotneo/nl-verkeer/pkg/util"
	iso8601 "github.com/senseyeio/duration"
)

var (
	lengthFields = []string{"lengthAffected", "queueLength", "length"}
	delayFields  = []string{"delayTimeValue", "delayValue"}

	directionFields = []string{"alertCDirectionCoded", "tpegDirection", "directionBoundOnLinearSection", "directionRelative"}

	publicationTimeLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
)

// lengthKm returns the first length field in meters converted to kilometres.
func lengthKm(record *Node) *float64 {
	for _, field := range lengthFields {
		text := record.FindText(field)
		if text == "" {
			continue
		}

		meters, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0 {
			continue
		}

		return traffic.Float(traffic.RoundTo1(meters / 1000))
	}

	return nil
}

func delayMin(record *Node) *int {
	for _, field := range delayFields {
		if minutes, ok := ParseDelay(record.FindText(field)); ok {
			return traffic.Int(minutes)
		}
	}

	// some publications put the value directly in a leaf <delays> element
	for _, node := range record.FindAll("delays") {
		if len(node.Children) > 0 {
			continue
		}
		if minutes, ok := ParseDelay(node.Text); ok {
			return traffic.Int(minutes)
		}
	}

	return nil
}

// ParseDelay converts a second count or an ISO-8601 duration (PT#H#M#S) into
// whole minutes. Seconds are rounded to the nearest minute.
func ParseDelay(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
			return 0, false
		}
		return int(math.Round(seconds / 60)), true
	}

	duration, err := iso8601.ParseISO8601(strings.ToUpper(value))
	if err != nil {
		return 0, false
	}

	minutes := duration.D*24*60 + duration.TH*60 + duration.TM + int(math.Round(float64(duration.TS)/60))
	if minutes < 0 {
		return 0, false
	}

	return minutes, true
}

func parsePublicationTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range publicationTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}

	return time.Time{}, false
}

func direction(record *Node) string {
	for _, field := range directionFields {
		if text := record.FindText(field); text != "" {
			return text
		}
	}
	return ""
}

func commentText(record *Node) []string {
	var phrases []string
	for _, comment := range record.FindAll("generalPublicComment") {
		for _, value := range comment.FindAll("value") {
			phrases = append(phrases, util.SplitSentences(value.Text)...)
		}
	}
	return phrases
}

// locationNames returns the Alert-C primary and secondary location names.
func locationNames(record *Node) (string, string) {
	from := pointName(record, "alertCMethod4PrimaryPointLocation", "alertCMethod2PrimaryPointLocation")
	to := pointName(record, "alertCMethod4SecondaryPointLocation", "alertCMethod2SecondaryPointLocation")
	return from, to
}

func pointName(record *Node, elements ...string) string {
	for _, element := range elements {
		for _, node := range record.FindAll(element) {
			if name := firstValue(node); name != "" {
				return name
			}
		}
	}
	return ""
}

func firstValue(node *Node) string {
	for _, name := range []string{"locationName", "name"} {
		if found := node.Find(name); found != nil {
			if texts := found.Texts(); len(texts) > 0 {
				return texts[0]
			}
		}
	}
	return ""
}

func locationText(record *Node) string {
	for _, field := range []string{"locationDescriptor", "roadName"} {
		if node := record.Find(field); node != nil {
			if texts := node.Texts(); len(texts) > 0 {
				return strings.Join(texts, " ")
			}
		}
	}
	return ""
}
