// Package locationtable resolves Alert-C location codes to road codes using the
// downloadable location reference table.
package locationtable

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/cachestore"
	"github.com/clawbotneo/nl-verkeer/pkg/dbf"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL       = 7 * 24 * time.Hour
	DefaultBatchSize = 25000

	// DefaultRetryAfter is how long a failed download keeps the table from being fetched again.
	DefaultRetryAfter = 10 * time.Minute

	DefaultTableName  = "LOCATIONS"
	DefaultCodeColumn = "LOC_NR"
	DefaultRoadColumn = "ROADNUMBER"
)

// Fetcher downloads the compressed archive holding the table.
type Fetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

type FetcherFunc func(ctx context.Context, source string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, source string) ([]byte, error) {
	return f(ctx, source)
}

// Table maps location codes to road codes such as "A12".
type Table map[string]string

type Resolver struct {
	Source  string
	Fetcher Fetcher

	TableName  string
	CodeColumn string
	RoadColumn string
	BatchSize  int

	Cache *cachestore.Slot[Table]
}

func NewResolver(source string, fetcher Fetcher) *Resolver {
	cache := cachestore.NewSlot[Table](DefaultTTL)
	cache.RetryAfter = DefaultRetryAfter

	return &Resolver{
		Source:     source,
		Fetcher:    fetcher,
		TableName:  DefaultTableName,
		CodeColumn: DefaultCodeColumn,
		RoadColumn: DefaultRoadColumn,
		BatchSize:  DefaultBatchSize,
		Cache:      cache,
	}
}

// Resolve returns the road code for locationCode. An expired table is rebuilt on
// demand; if the rebuild fails the previous table keeps serving.
func (r *Resolver) Resolve(ctx context.Context, locationCode string) (string, bool, error) {
	table, err := r.Table(ctx)
	if err != nil {
		return "", false, err
	}

	roadCode, ok := table[strings.TrimSpace(locationCode)]
	return roadCode, ok, nil
}

func (r *Resolver) Table(ctx context.Context) (Table, error) {
	entry, ok, err := r.Cache.Get(ctx, r.load)
	if err != nil && !ok {
		return nil, &traffic.ResolutionError{Table: "location table", Err: err}
	} else if err != nil {
		log.Warn().Err(err).Time("fetchedat", entry.FetchedAt).Msg("Location table refresh failed, serving previous table")
	}

	return entry.Value, nil
}

func (r *Resolver) load(ctx context.Context) (Table, error) {
	startTime := time.Now()

	archive, err := r.Fetcher.Fetch(ctx, r.Source)
	if err != nil {
		return nil, err
	}

	table, err := r.Parse(archive)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("locations", len(table)).
		Str("latency", time.Since(startTime).String()).
		Msg("Loaded location table")

	return table, nil
}

// Parse extracts the configured table from a zip archive.
func (r *Resolver) Parse(archive []byte) (Table, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	for _, zipFile := range zipReader.File {
		name := filepath.Base(zipFile.Name)
		extension := strings.ToLower(filepath.Ext(name))
		baseName := strings.TrimSuffix(name, filepath.Ext(name))

		if !strings.EqualFold(baseName, r.TableName) {
			continue
		}

		file, err := zipFile.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", zipFile.Name, err)
		}
		defer file.Close()

		switch extension {
		case ".dbf":
			return r.parseDBF(file)
		case ".csv":
			return r.parseCSV(file)
		}
	}

	return nil, fmt.Errorf("table %s not found in archive", r.TableName)
}

func (r *Resolver) parseDBF(reader io.Reader) (Table, error) {
	dbfReader, err := dbf.NewReader(reader)
	if err != nil {
		return nil, err
	}

	table := Table{}
	codeColumn := strings.ToUpper(r.CodeColumn)
	roadColumn := strings.ToUpper(r.RoadColumn)

	for {
		records, err := dbfReader.ReadRecords(r.batchSize())

		for _, record := range records {
			table.add(record[codeColumn], record[roadColumn])
		}

		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
	}

	return table, nil
}

// csvLocation holds the columns read from the CSV rendition of the table.
// Column names in CSV exports are fixed; CodeColumn and RoadColumn apply to DBF.
type csvLocation struct {
	Code string `csv:"LOC_NR"`
	Road string `csv:"ROADNUMBER"`
}

func (r *Resolver) parseCSV(reader io.Reader) (Table, error) {
	buffered := bufio.NewReader(reader)
	firstLine, _ := buffered.Peek(4096)

	csvReader := csv.NewReader(buffered)
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true
	csvReader.Comma = detectDelimiter(firstLine)

	var locations []*csvLocation
	if err := gocsv.UnmarshalCSV(csvReader, &locations); err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	table := Table{}
	for _, location := range locations {
		table.add(location.Code, location.Road)
	}

	return table, nil
}

func detectDelimiter(sample []byte) rune {
	if newline := bytes.IndexByte(sample, '\n'); newline >= 0 {
		sample = sample[:newline]
	}
	if bytes.Count(sample, []byte(";")) > bytes.Count(sample, []byte(",")) {
		return ';'
	}
	return ','
}

func (r *Resolver) batchSize() int {
	if r.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return r.BatchSize
}

func (t Table) add(code string, road string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}

	roadCode := strings.ToUpper(strings.TrimSpace(road))
	if !roadShapeRegex.MatchString(roadCode) {
		return
	}

	t[code] = roadCode
}

var roadShapeRegex = regexp.MustCompile(`^[AN]\d{1,3}$`)
