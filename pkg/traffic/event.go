package traffic

import "time"

type Event struct {
	ID string `json:"id" groups:"basic,detailed"`

	RoadType   RoadType `json:"roadType" groups:"basic,detailed"`
	RoadNumber int      `json:"roadNumber" groups:"basic,detailed"`
	RoadCode   string   `json:"roadCode" groups:"basic,detailed"`

	Category Category `json:"category" groups:"basic,detailed"`

	LocationText string `json:"locationText,omitempty" groups:"detailed"`
	Direction    string `json:"direction,omitempty" groups:"detailed"`
	From         string `json:"from,omitempty" groups:"basic,detailed"`
	To           string `json:"to,omitempty" groups:"basic,detailed"`
	ReasonText   string `json:"reasonText,omitempty" groups:"detailed"`

	LengthKm *float64 `json:"lengthKm,omitempty" groups:"basic,detailed"`
	DelayMin *int     `json:"delayMin,omitempty" groups:"basic,detailed"`

	External *ExternalPost `json:"external,omitempty" groups:"detailed"`

	LastUpdated time.Time `json:"lastUpdated" groups:"basic,detailed"`
	Source      Source    `json:"source" groups:"detailed"`
	SourceURL   string    `json:"sourceUrl,omitempty" groups:"detailed"`
}

// ExternalPost is the short third-party status text attached by enrichment.
type ExternalPost struct {
	Text     string    `json:"text" groups:"detailed"`
	URL      string    `json:"url" groups:"detailed"`
	PostedAt time.Time `json:"postedAt" groups:"detailed"`
}

type Category string

const (
	CategoryJam      Category = "jam"
	CategoryAccident Category = "accident"
)

func (c Category) Valid() bool {
	return c == CategoryJam || c == CategoryAccident
}

type Source string

const (
	SourcePrimaryFeed Source = "primary-feed"
	SourceScrape      Source = "scrape"
)

// SetRoad assigns type, number and code together so they can never disagree.
func (e *Event) SetRoad(road Road) {
	e.RoadType = road.Type
	e.RoadNumber = road.Number
	e.RoadCode = road.Code()
}

func (e *Event) Road() Road {
	return Road{Type: e.RoadType, Number: e.RoadNumber}
}

// LengthOr returns the length in km or fallback when the event has none.
func (e *Event) LengthOr(fallback float64) float64 {
	if e.LengthKm == nil {
		return fallback
	}
	return *e.LengthKm
}

func (e *Event) DelayOr(fallback int) int {
	if e.DelayMin == nil {
		return fallback
	}
	return *e.DelayMin
}

type Snapshot struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Events    []*Event  `json:"events"`
}
