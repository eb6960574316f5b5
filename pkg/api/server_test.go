package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator"
	"github.com/clawbotneo/nl-verkeer/pkg/enrichment"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	result *dataaggregator.Result
	err    error
}

func (p staticProvider) Events(ctx context.Context) (*dataaggregator.Result, error) {
	return p.result, p.err
}

type staticReporter struct {
	failure *enrichment.Failure
}

func (r staticReporter) LastFailure() (enrichment.Failure, bool) {
	if r.failure == nil {
		return enrichment.Failure{}, false
	}
	return *r.failure, true
}

var fetchedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testEvent(id string, road string, category traffic.Category, delay int) *traffic.Event {
	event := &traffic.Event{
		ID:          id,
		Category:    category,
		DelayMin:    traffic.Int(delay),
		ReasonText:  "Ongeval.",
		Source:      traffic.SourcePrimaryFeed,
		LastUpdated: fetchedAt,
	}
	parsed, _ := traffic.ParseRoad(road)
	event.SetRoad(parsed)
	return event
}

type eventsResponse struct {
	Events    []map[string]any `json:"events"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Stale     bool             `json:"stale"`
	Warning   string           `json:"warning"`
	Error     string           `json:"error"`
}

func get(t *testing.T, provider staticProvider, reporter staticReporter, target string) (int, []byte) {
	t.Helper()

	app := NewApp(provider, reporter)
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestListEvents(t *testing.T) {
	provider := staticProvider{result: &dataaggregator.Result{
		Events: []*traffic.Event{
			testEvent("ndw:1", "N35", traffic.CategoryJam, 99),
			testEvent("ndw:2", "A8", traffic.CategoryJam, 5),
			testEvent("ndw:3", "A8", traffic.CategoryAccident, 20),
		},
		FetchedAt: fetchedAt,
	}}

	status, body := get(t, provider, staticReporter{}, "/api/events?roadType=A&roadNumber=8")
	require.Equal(t, 200, status)

	var response eventsResponse
	require.NoError(t, json.Unmarshal(body, &response))
	require.Len(t, response.Events, 2)
	assert.Equal(t, "ndw:3", response.Events[0]["id"])
	assert.Equal(t, "ndw:2", response.Events[1]["id"])
	assert.Equal(t, "A8", response.Events[0]["roadCode"])
	assert.NotContains(t, response.Events[0], "reasonText")
	assert.NotContains(t, response.Events[0], "source")
	assert.Equal(t, fetchedAt, response.FetchedAt)
	assert.False(t, response.Stale)

	status, body = get(t, provider, staticReporter{}, "/api/events?category=jam&sort=delay&view=detailed")
	require.Equal(t, 200, status)

	response = eventsResponse{}
	require.NoError(t, json.Unmarshal(body, &response))
	require.Len(t, response.Events, 2)
	assert.Equal(t, "ndw:1", response.Events[0]["id"])
	assert.Equal(t, "Ongeval.", response.Events[0]["reasonText"])
	assert.Equal(t, "primary-feed", response.Events[0]["source"])
}

func TestListEventsStale(t *testing.T) {
	provider := staticProvider{result: &dataaggregator.Result{
		Events:    []*traffic.Event{testEvent("ndw:1", "A1", traffic.CategoryJam, 10)},
		FetchedAt: fetchedAt,
		Stale:     true,
		Warning:   "upstream 500",
	}}

	status, body := get(t, provider, staticReporter{}, "/api/events")
	require.Equal(t, 200, status)

	var response eventsResponse
	require.NoError(t, json.Unmarshal(body, &response))
	assert.True(t, response.Stale)
	assert.Equal(t, "upstream 500", response.Warning)
}

func TestListEventsErrors(t *testing.T) {
	provider := staticProvider{err: errors.New("no snapshot")}

	status, body := get(t, provider, staticReporter{}, "/api/events")
	assert.Equal(t, 503, status)
	assert.Contains(t, string(body), "no snapshot")

	for _, target := range []string{
		"/api/events?roadType=S",
		"/api/events?category=roadworks",
		"/api/events?sort=name",
		"/api/events?view=everything",
	} {
		status, _ := get(t, provider, staticReporter{}, target)
		assert.Equal(t, 400, status, target)
	}
}

func TestDiagnostics(t *testing.T) {
	status, body := get(t, staticProvider{}, staticReporter{}, "/api/diagnostics/enrichment")
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{}`, string(body))

	failure := &enrichment.Failure{At: fetchedAt, Message: "enrichment posts: status 429"}
	status, body = get(t, staticProvider{}, staticReporter{failure: failure}, "/api/diagnostics/enrichment")
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"failedAt":"2024-03-01T12:00:00Z","message":"enrichment posts: status 429"}`, string(body))
}

func TestVersionAndMetrics(t *testing.T) {
	status, body := get(t, staticProvider{}, staticReporter{}, "/api/version")
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"version":"v0.1"}`, string(body))

	status, body = get(t, staticProvider{}, staticReporter{}, "/metrics")
	assert.Equal(t, 200, status)
	assert.Contains(t, string(body), "go_goroutines")
}
