// Package measurementsite resolves travel-time measurement site ids to a road code
// and a display name by streaming the (large) site metadata publication.
package measurementsite

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
)

const DefaultTTL = 7 * 24 * time.Hour

type Site struct {
	RoadCode string
	Name     string
}

// LocationResolver turns an Alert-C location code into a road code.
type LocationResolver interface {
	Resolve(ctx context.Context, locationCode string) (string, bool, error)
}

// Opener opens a decompressed metadata stream.
type Opener func(ctx context.Context) (io.ReadCloser, error)

type Resolver struct {
	Open      Opener
	Locations LocationResolver
	TTL       time.Duration
	Now       func() time.Time

	// scan serialises streams so concurrent callers share the generation they fill
	scan sync.Mutex

	mu         sync.Mutex
	generation time.Time
	sites      map[string]Site
	absent     map[string]struct{}
}

func NewResolver(open Opener, locations LocationResolver) *Resolver {
	return &Resolver{
		Open:      open,
		Locations: locations,
		TTL:       DefaultTTL,
		Now:       time.Now,
	}
}

// Resolve returns the sites found for the wanted ids. Ids that do not exist in the
// publication are simply missing from the result.
func (r *Resolver) Resolve(ctx context.Context, wanted []string) (map[string]Site, error) {
	result, missing := r.lookup(wanted)
	if len(missing) == 0 {
		return result, nil
	}

	r.scan.Lock()
	defer r.scan.Unlock()

	// another caller may have streamed while we waited
	result, missing = r.lookup(wanted)
	if len(missing) == 0 {
		return result, nil
	}

	found, exhausted, err := r.stream(ctx, missing)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for id, site := range found {
		r.sites[id] = site
		if site.RoadCode != "" {
			result[id] = site
		}
		delete(missing, id)
	}
	if exhausted {
		for id := range missing {
			r.absent[id] = struct{}{}
		}
	}
	r.mu.Unlock()

	log.Debug().
		Int("wanted", len(wanted)).
		Int("streamed", len(found)).
		Bool("exhausted", exhausted).
		Msg("Measurement site lookup")

	return result, nil
}

// Reset discards the current generation.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sites = nil
	r.absent = nil
	r.generation = time.Time{}
}

func (r *Resolver) lookup(wanted []string) (map[string]Site, map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.sites == nil || now.Sub(r.generation) >= r.ttl() {
		r.sites = map[string]Site{}
		r.absent = map[string]struct{}{}
		r.generation = now
	}

	result := map[string]Site{}
	missing := map[string]struct{}{}

	for _, id := range wanted {
		if site, ok := r.sites[id]; ok {
			if site.RoadCode != "" {
				result[id] = site
			}
		} else if _, ok := r.absent[id]; !ok {
			missing[id] = struct{}{}
		}
	}

	return result, missing
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Resolver) ttl() time.Duration {
	if r.TTL <= 0 {
		return DefaultTTL
	}
	return r.TTL
}

// siteRecord gathers the text of one wanted measurementSiteRecord.
type siteRecord struct {
	id            string
	name          strings.Builder
	roadNumber    strings.Builder
	locationCodes []string
}

// stream reads the publication until every remaining id is found or the stream ends.
// exhausted reports whether EOF was reached, which proves the leftovers do not exist.
func (r *Resolver) stream(ctx context.Context, missing map[string]struct{}) (map[string]Site, bool, error) {
	reader, err := r.Open(ctx)
	if err != nil {
		return nil, false, &traffic.ResolutionError{Table: "measurement sites", Err: err}
	}
	defer reader.Close()

	remaining := make(map[string]struct{}, len(missing))
	for id := range missing {
		remaining[id] = struct{}{}
	}

	found := map[string]Site{}

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	var path []string
	var record *siteRecord
	recordDepth := 0

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return found, true, nil
		} else if err != nil {
			return nil, false, &traffic.ParseError{Source: "measurement sites", Reason: "xml token", Err: err}
		}

		switch ty := tok.(type) {
		case xml.StartElement:
			path = append(path, ty.Name.Local)

			if record == nil && ty.Name.Local == "measurementSiteRecord" {
				id := attribute(ty, "id")
				if _, ok := remaining[id]; ok {
					record = &siteRecord{id: id}
					recordDepth = len(path)
				}
			}
		case xml.CharData:
			if record == nil {
				continue
			}
			text := strings.TrimSpace(string(ty))
			if text == "" {
				continue
			}

			switch {
			case hasSuffix(path, "measurementSiteName", "values", "value"):
				record.name.WriteString(text)
			case hasSuffix(path, "specificLocation"):
				record.locationCodes = append(record.locationCodes, text)
			case hasSuffix(path, "roadNumber"):
				record.roadNumber.WriteString(text)
			}
		case xml.EndElement:
			if record != nil && len(path) == recordDepth && ty.Name.Local == "measurementSiteRecord" {
				site, err := r.finish(ctx, record)
				if err != nil {
					return nil, false, err
				}

				// sites without a road are kept too so they are not streamed for again
				found[record.id] = site
				delete(remaining, record.id)
				record = nil

				if len(remaining) == 0 {
					return found, false, nil
				}
			}

			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
}

// finish picks the road for a record. A failing location table aborts the whole
// stream so nothing half-resolved is remembered for the generation.
func (r *Resolver) finish(ctx context.Context, record *siteRecord) (Site, error) {
	site := Site{Name: strings.TrimSpace(record.name.String())}

	if r.Locations != nil {
		for _, code := range record.locationCodes {
			roadCode, ok, err := r.Locations.Resolve(ctx, code)
			if err != nil {
				var resolutionError *traffic.ResolutionError
				if errors.As(err, &resolutionError) {
					return site, err
				}
				return site, &traffic.ResolutionError{Table: "location table", Err: err}
			}
			if ok {
				site.RoadCode = roadCode
				return site, nil
			}
		}
	}

	if road, ok := traffic.ParseRoad(record.roadNumber.String()); ok {
		site.RoadCode = road.Code()
		return site, nil
	}
	if road, ok := traffic.FindRoad(site.Name); ok {
		site.RoadCode = road.Code()
		return site, nil
	}

	return site, nil
}

func attribute(element xml.StartElement, name string) string {
	for _, attr := range element.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func hasSuffix(path []string, suffix ...string) bool {
	if len(path) < len(suffix) {
		return false
	}

	offset := len(path) - len(suffix)
	for i, name := range suffix {
		if path[offset+i] != name {
			return false
		}
	}
	return true
}
