package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/download"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	userCalls  atomic.Int32
	tweetCalls atomic.Int32
	status     int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/by/username/RWSverkeersinfo", func(w http.ResponseWriter, r *http.Request) {
		f.userCalls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":{"id":"42","username":"RWSverkeersinfo"}}`)
	})
	mux.HandleFunc("/2/users/42/tweets", func(w http.ResponseWriter, r *http.Request) {
		f.tweetCalls.Add(1)
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		assert.Equal(t, "retweets,replies", r.URL.Query().Get("exclude"))
		assert.Equal(t, "created_at", r.URL.Query().Get("tweet.fields"))
		fmt.Fprintf(w, `{"data":[
			{"id":"1","text":"File op de A 58 bij Tilburg","created_at":"%s"},
			{"id":"2","text":"Ongeval A58 Eindhoven, oudere melding","created_at":"%s"},
			{"id":"3","text":"Werk aan de A580","created_at":"%s"},
			{"id":"4","text":"Drukte op de A-2","created_at":"%s"}
		]}`,
			now.Add(-10*time.Minute).Format(time.RFC3339),
			now.Add(-30*time.Minute).Format(time.RFC3339),
			now.Add(-5*time.Minute).Format(time.RFC3339),
			now.Add(-2*time.Hour).Format(time.RFC3339),
		)
	})
	return mux
}

func newEnricher(t *testing.T, bases ...string) *Enricher {
	client := download.NewClient()
	client.MaxRetries = 0

	enricher := NewEnricher("secret", client)
	enricher.Bases = bases
	enricher.Now = func() time.Time { return now }
	return enricher
}

func jam(id string, road string) *traffic.Event {
	event := &traffic.Event{ID: id, Category: traffic.CategoryJam, LastUpdated: now, DelayMin: traffic.Int(10)}
	parsed, _ := traffic.ParseRoad(road)
	event.SetRoad(parsed)
	return event
}

func TestEnrichAttachesNewestMention(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	enricher := newEnricher(t, down.URL+"/2", server.URL+"/2")

	a58 := jam("ndw:1", "A58")
	a58Second := jam("ndw:2", "A58")
	a2 := jam("ndw:3", "A2")
	accident := jam("ndw:4", "A58")
	accident.Category = traffic.CategoryAccident

	events := []*traffic.Event{a58, a58Second, a2, accident}
	enriched := enricher.Enrich(context.Background(), events)
	require.Len(t, enriched, 4)

	require.NotNil(t, enriched[0].External)
	assert.Equal(t, "File op de A 58 bij Tilburg", enriched[0].External.Text)
	assert.Equal(t, "https://x.com/RWSverkeersinfo/status/1", enriched[0].External.URL)
	assert.Equal(t, now.Add(-10*time.Minute), enriched[0].External.PostedAt)
	assert.Equal(t, "ndw:1", enriched[0].ID)
	assert.Equal(t, "A58", enriched[0].RoadCode)
	assert.Equal(t, 10, *enriched[0].DelayMin)
	assert.Equal(t, now, enriched[0].LastUpdated)

	require.NotNil(t, enriched[1].External)
	assert.Nil(t, enriched[2].External)
	assert.Nil(t, enriched[3].External)

	// inputs stay untouched
	assert.Nil(t, a58.External)
	assert.Same(t, a2, enriched[2])

	_, failed := enricher.LastFailure()
	assert.False(t, failed)

	enricher.Enrich(context.Background(), events)
	assert.Equal(t, int32(1), api.userCalls.Load())
	assert.Equal(t, int32(1), api.tweetCalls.Load())
}

func TestEnrichGate(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	enricher := newEnricher(t, server.URL+"/2")
	accident := jam("ndw:1", "A58")
	accident.Category = traffic.CategoryAccident

	events := []*traffic.Event{accident}
	assert.Equal(t, events, enricher.Enrich(context.Background(), events))
	assert.Equal(t, int32(0), api.userCalls.Load())

	enricher.Token = ""
	events = []*traffic.Event{jam("ndw:2", "A58")}
	assert.Equal(t, events, enricher.Enrich(context.Background(), events))
	assert.Equal(t, int32(0), api.userCalls.Load())
}

func TestEnrichFailureIsSwallowed(t *testing.T) {
	api := &fakeAPI{status: http.StatusTooManyRequests}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	enricher := newEnricher(t, server.URL+"/2")

	events := []*traffic.Event{jam("ndw:1", "A58")}
	enriched := enricher.Enrich(context.Background(), events)
	assert.Equal(t, events, enriched)
	assert.Nil(t, enriched[0].External)

	failure, failed := enricher.LastFailure()
	require.True(t, failed)
	assert.Equal(t, now, failure.At)
	assert.Contains(t, failure.Message, "posts")
}

func TestMentionRegex(t *testing.T) {
	mention, ok := MentionRegex("A58")
	require.True(t, ok)

	assert.True(t, mention.MatchString("File A58 richting Breda"))
	assert.True(t, mention.MatchString("file op de A 58"))
	assert.True(t, mention.MatchString("(A-58)"))
	assert.False(t, mention.MatchString("A580 dicht"))
	assert.False(t, mention.MatchString("NA58"))
	assert.False(t, mention.MatchString("A5 en A8"))

	_, ok = MentionRegex("X1")
	assert.False(t, ok)
}

func TestCachedMatchExpiresWithWindow(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	clock := now
	enricher := newEnricher(t, server.URL+"/2")
	enricher.Now = func() time.Time { return clock }

	events := []*traffic.Event{jam("ndw:1", "A58")}
	enriched := enricher.Enrich(context.Background(), events)
	require.NotNil(t, enriched[0].External)
	assert.Equal(t, "https://x.com/RWSverkeersinfo/status/1", enriched[0].External.URL)

	// the post is now 65 minutes old while the per-road match is still cached
	clock = now.Add(55 * time.Minute)
	enriched = enricher.Enrich(context.Background(), events)
	assert.Nil(t, enriched[0].External)
	assert.Same(t, events[0], enriched[0])
	assert.Equal(t, int32(1), api.tweetCalls.Load())
}

func TestEnrichReportsOneFailureForManyRoads(t *testing.T) {
	api := &fakeAPI{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	enricher := newEnricher(t, server.URL+"/2")

	events := []*traffic.Event{jam("ndw:1", "A58"), jam("ndw:2", "A2"), jam("ndw:3", "N35")}
	enriched := enricher.Enrich(context.Background(), events)
	assert.Equal(t, events, enriched)

	failure, failed := enricher.LastFailure()
	require.True(t, failed)
	assert.Contains(t, failure.Message, "posts")
}
