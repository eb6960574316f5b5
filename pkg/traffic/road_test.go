package traffic

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoad(t *testing.T) {
	tests := []struct {
		given    string
		expected Road
		ok       bool
	}{
		{given: "A8", expected: Road{Type: RoadTypeA, Number: 8}, ok: true},
		{given: " n35 ", expected: Road{Type: RoadTypeN, Number: 35}, ok: true},
		{given: "A-58", expected: Road{Type: RoadTypeA, Number: 58}, ok: true},
		{given: "A 2", expected: Road{Type: RoadTypeA, Number: 2}, ok: true},
		{given: "B12", ok: false},
		{given: "A1234", ok: false},
		{given: "A0", ok: false},
		{given: "", ok: false},
	}

	for _, test := range tests {
		road, ok := ParseRoad(test.given)
		assert.Equal(t, test.ok, ok, test.given)
		if test.ok {
			assert.Equal(t, test.expected, road)
		}
	}
}

func TestFindRoad(t *testing.T) {
	road, ok := FindRoad("Op de A 12 richting Utrecht staat een file")
	assert.True(t, ok)
	assert.Equal(t, "A12", road.Code())

	_, ok = FindRoad("Geen wegnummer in deze tekst")
	assert.False(t, ok)

	_, ok = FindRoad("NA1234 is geen weg")
	assert.False(t, ok)
}

func TestEventSetRoadKeepsCodeConsistent(t *testing.T) {
	event := &Event{}
	event.SetRoad(Road{Type: RoadTypeN, Number: 201})

	assert.Equal(t, "N201", event.RoadCode)
	assert.Equal(t, RoadTypeN, event.RoadType)
	assert.Equal(t, 201, event.RoadNumber)
	assert.Equal(t, Road{Type: RoadTypeN, Number: 201}, event.Road())
}

func TestRoundTo1(t *testing.T) {
	assert.Equal(t, 15.4, RoundTo1(15.4))
	assert.Equal(t, 0.1, RoundTo1(0.06))
	assert.Equal(t, 2.5, RoundTo1(2.45000001))
}

func TestErrorsUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("refresh: %w", &ResolutionError{Table: "locations", Err: inner})

	var resolutionError *ResolutionError
	assert.True(t, errors.As(err, &resolutionError))
	assert.ErrorIs(t, err, inner)

	fetchError := &FetchError{URL: "https://example.test", StatusCode: 503}
	assert.True(t, fetchError.Retryable())
	assert.Contains(t, fetchError.Error(), "HTTP 503")
	assert.False(t, (&FetchError{StatusCode: 404}).Retryable())
}
