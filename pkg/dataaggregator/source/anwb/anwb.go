// Package anwb is the scrape source, reading the ANWB traffic page.
package anwb

import (
	"context"

	"github.com/clawbotneo/nl-verkeer/pkg/download"
	"github.com/clawbotneo/nl-verkeer/pkg/scrape"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
)

const DefaultURL = "https://www.anwb.nl/verkeer/filelijst"

type Fetcher interface {
	Fetch(ctx context.Context, source string, options ...download.RequestOption) ([]byte, error)
}

type Source struct {
	Client    Fetcher
	URL       string
	Extractor *scrape.Extractor
}

func (s Source) GetName() string {
	return "anwb"
}

func (s Source) Fetch(ctx context.Context) ([]*traffic.Event, error) {
	page, err := s.Client.Fetch(ctx, s.URL, download.WithHeader("Accept", "text/html"))
	if err != nil {
		return nil, err
	}

	return s.Extractor.Extract(page)
}
