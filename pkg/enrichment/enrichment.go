// Package enrichment attaches recent posts from a road authority's X account to
// jam events on the roads those posts mention.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/cachestore"
	"github.com/clawbotneo/nl-verkeer/pkg/download"
	"github.com/clawbotneo/nl-verkeer/pkg/metrics"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/exp/slices"
)

const (
	DefaultAccount     = "RWSverkeersinfo"
	DefaultConcurrency = 8

	accountTTL = 24 * time.Hour
	postsTTL   = 5 * time.Minute
	matchTTL   = 5 * time.Minute

	// Window is how old a post may be and still be attached.
	Window = time.Hour
)

var DefaultBases = []string{"https://api.x.com/2", "https://api.twitter.com/2"}

type Fetcher interface {
	Fetch(ctx context.Context, source string, options ...download.RequestOption) ([]byte, error)
}

type Post struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

type Failure struct {
	At      time.Time `json:"failedAt"`
	Message string    `json:"message"`
}

type account struct {
	Base string
	ID   string
}

// match is cached per road; a nil Post records that nothing matched.
type match struct {
	Post *Post
}

type Enricher struct {
	Token       string
	Account     string
	Bases       []string
	Client      Fetcher
	Concurrency int

	Now func() time.Time

	accounts *cachestore.Keyed[account]
	posts    *cachestore.Keyed[[]Post]
	matches  *cachestore.Keyed[match]

	mu          sync.Mutex
	lastFailure *Failure
}

func NewEnricher(token string, client Fetcher) *Enricher {
	return &Enricher{
		Token:       token,
		Account:     DefaultAccount,
		Bases:       DefaultBases,
		Client:      client,
		Concurrency: DefaultConcurrency,
		Now:         time.Now,

		accounts: cachestore.NewKeyed[account](accountTTL),
		posts:    cachestore.NewKeyed[[]Post](postsTTL),
		matches:  cachestore.NewKeyed[match](matchTTL),
	}
}

// Enabled reports whether a credential is configured.
func (e *Enricher) Enabled() bool {
	return e != nil && e.Token != ""
}

// Enrich returns events where jam events on roads mentioned by a recent post are
// replaced by copies carrying that post. Failures leave the events untouched.
func (e *Enricher) Enrich(ctx context.Context, events []*traffic.Event) []*traffic.Event {
	if !e.Enabled() {
		return events
	}

	roads := jamRoads(events)
	if len(roads) == 0 {
		return events
	}

	// each road waits on the shared, cached post list; matches are cached per road
	p := pool.NewWithResults[roadPost]().WithMaxGoroutines(e.concurrency())
	for _, road := range roads {
		road := road
		p.Go(func() roadPost {
			found, err := e.matches.Get(ctx, road, func(ctx context.Context) (match, error) {
				posts, err := e.recentPosts(ctx)
				if err != nil {
					return match{}, err
				}
				return match{Post: e.newestMention(posts, road)}, nil
			})
			return roadPost{Road: road, Post: found.Post, Err: err}
		})
	}

	found := map[string]*Post{}
	var failure error
	for _, result := range p.Wait() {
		if result.Err != nil {
			if failure == nil {
				failure = result.Err
			}
			continue
		}
		// a cached match can outlive the window of the post it holds
		if result.Post != nil && e.inWindow(*result.Post) {
			found[result.Road] = result.Post
		}
	}

	if failure != nil {
		e.fail(failure)
	}

	if len(found) == 0 {
		return events
	}

	enriched := make([]*traffic.Event, 0, len(events))
	for _, event := range events {
		post, ok := found[event.RoadCode]
		if event.Category != traffic.CategoryJam || !ok {
			enriched = append(enriched, event)
			continue
		}

		var eventCopy traffic.Event
		if err := copier.Copy(&eventCopy, event); err != nil {
			e.fail(&traffic.EnrichmentError{Step: "copy", Err: err})
			enriched = append(enriched, event)
			continue
		}

		eventCopy.External = &traffic.ExternalPost{
			Text:     post.Text,
			URL:      e.postURL(post),
			PostedAt: post.CreatedAt,
		}
		metrics.EnrichmentMatches.Inc()

		enriched = append(enriched, &eventCopy)
	}

	return enriched
}

// LastFailure returns the most recent swallowed failure.
func (e *Enricher) LastFailure() (Failure, bool) {
	if e == nil {
		return Failure{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastFailure == nil {
		return Failure{}, false
	}
	return *e.lastFailure, true
}

type roadPost struct {
	Road string
	Post *Post
	Err  error
}

func jamRoads(events []*traffic.Event) []string {
	var roads []string
	for _, event := range events {
		if event.Category == traffic.CategoryJam && event.RoadCode != "" && !slices.Contains(roads, event.RoadCode) {
			roads = append(roads, event.RoadCode)
		}
	}
	return roads
}

// MentionRegex matches a road code as a whole token, allowing "A58", "A 58" and "A-58".
func MentionRegex(roadCode string) (*regexp.Regexp, bool) {
	road, ok := traffic.ParseRoad(roadCode)
	if !ok {
		return nil, false
	}

	return regexp.MustCompile(fmt.Sprintf(`\b%s[\s-]?%d\b`, regexp.QuoteMeta(string(road.Type)), road.Number)), true
}

// newestMention picks the newest post from the window that mentions the road.
// posts is ordered newest first.
func (e *Enricher) newestMention(posts []Post, roadCode string) *Post {
	mention, ok := MentionRegex(roadCode)
	if !ok {
		return nil
	}

	for i := range posts {
		post := posts[i]
		if e.inWindow(post) && mention.MatchString(post.Text) {
			return &post
		}
	}

	return nil
}

func (e *Enricher) inWindow(post Post) bool {
	age := e.now().Sub(post.CreatedAt)
	return age <= Window && age >= -Window
}

func (e *Enricher) recentPosts(ctx context.Context) ([]Post, error) {
	owner, err := e.accounts.Get(ctx, e.account(), e.lookupAccount)
	if err != nil {
		return nil, err
	}

	return e.posts.Get(ctx, owner.Base+"|"+owner.ID, func(ctx context.Context) ([]Post, error) {
		return e.fetchPosts(ctx, owner)
	})
}

type userResponse struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

type tweetsResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
}

// lookupAccount tries every API base in order until one resolves the account.
func (e *Enricher) lookupAccount(ctx context.Context) (account, error) {
	var errs []error

	for _, base := range e.bases() {
		body, err := e.Client.Fetch(ctx, base+"/users/by/username/"+url.PathEscape(e.account()), download.WithBearerToken(e.Token))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var response userResponse
		if err := json.Unmarshal(body, &response); err != nil {
			errs = append(errs, fmt.Errorf("decode user from %s: %w", base, err))
			continue
		}
		if response.Data.ID == "" {
			errs = append(errs, fmt.Errorf("no user id from %s", base))
			continue
		}

		log.Debug().Str("base", base).Str("account", e.account()).Str("id", response.Data.ID).Msg("Resolved X account")
		return account{Base: base, ID: response.Data.ID}, nil
	}

	return account{}, &traffic.EnrichmentError{Step: "account", Err: errors.Join(errs...)}
}

func (e *Enricher) fetchPosts(ctx context.Context, owner account) ([]Post, error) {
	query := url.Values{}
	query.Set("exclude", "retweets,replies")
	query.Set("tweet.fields", "created_at")

	body, err := e.Client.Fetch(ctx, owner.Base+"/users/"+url.PathEscape(owner.ID)+"/tweets?"+query.Encode(), download.WithBearerToken(e.Token))
	if err != nil {
		return nil, &traffic.EnrichmentError{Step: "posts", Err: err}
	}

	var response tweetsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &traffic.EnrichmentError{Step: "posts", Err: err}
	}

	posts := make([]Post, 0, len(response.Data))
	for _, tweet := range response.Data {
		posts = append(posts, Post{ID: tweet.ID, Text: tweet.Text, CreatedAt: tweet.CreatedAt})
	}

	slices.SortStableFunc(posts, func(a, b Post) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return posts, nil
}

func (e *Enricher) fail(err error) {
	step := "unknown"
	var enrichmentError *traffic.EnrichmentError
	if errors.As(err, &enrichmentError) {
		step = enrichmentError.Step
	}

	metrics.EnrichmentFailures.WithLabelValues(step).Inc()
	log.Warn().Err(err).Str("step", step).Msg("Enrichment failed")

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFailure = &Failure{At: e.now(), Message: err.Error()}
}

func (e *Enricher) postURL(post *Post) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", e.account(), post.ID)
}

func (e *Enricher) account() string {
	if e.Account == "" {
		return DefaultAccount
	}
	return strings.TrimPrefix(e.Account, "@")
}

func (e *Enricher) bases() []string {
	if len(e.Bases) == 0 {
		return DefaultBases
	}
	return e.Bases
}

func (e *Enricher) concurrency() int {
	if e.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return e.Concurrency
}

func (e *Enricher) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
