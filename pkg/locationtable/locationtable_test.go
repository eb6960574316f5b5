package locationtable

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for name, content := range files {
		file, err := writer.Create(name)
		require.NoError(t, err)
		_, err = file.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	return buffer.Bytes()
}

func buildDBF(rows [][2]string) []byte {
	var buffer bytes.Buffer
	lengths := []int{8, 8}
	names := []string{"LOC_NR", "ROADNUMBER"}

	header := make([]byte, 32)
	header[0] = 0x03
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(rows)))
	binary.LittleEndian.PutUint16(header[8:10], uint16(32+32*len(names)+1))
	binary.LittleEndian.PutUint16(header[10:12], uint16(1+lengths[0]+lengths[1]))
	buffer.Write(header)

	for i, name := range names {
		descriptor := make([]byte, 32)
		copy(descriptor, name)
		descriptor[11] = 'C'
		descriptor[16] = byte(lengths[i])
		buffer.Write(descriptor)
	}
	buffer.WriteByte(0x0D)

	for _, row := range rows {
		buffer.WriteByte(' ')
		for i, value := range row {
			cell := bytes.Repeat([]byte(" "), lengths[i])
			copy(cell, value)
			buffer.Write(cell)
		}
	}
	buffer.WriteByte(0x1A)

	return buffer.Bytes()
}

type countingFetcher struct {
	calls   int
	archive []byte
	err     error
}

func (f *countingFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.archive, nil
}

func TestResolveFromDBF(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{
		"VILD/LOCATIONS.DBF": buildDBF([][2]string{
			{"10001", "A12"},
			{"10002", "N201"},
			{"10003", "S100"},
			{"10004", ""},
		}),
		"VILD/README.TXT": []byte("ignored"),
	})

	resolver := NewResolver("https://example.test/vild.zip", &countingFetcher{archive: archive})
	resolver.BatchSize = 1

	road, ok, err := resolver.Resolve(context.Background(), "10001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A12", road)

	road, ok, err = resolver.Resolve(context.Background(), " 10002 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "N201", road)

	_, ok, err = resolver.Resolve(context.Background(), "10003")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = resolver.Resolve(context.Background(), "99999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveFromSemicolonCSV(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{
		"locations.csv": []byte("LOC_NR;ROADNUMBER;NAME\n2001;a58;Eindhoven\n2002;N35;Zwolle\n"),
	})

	resolver := NewResolver("table.zip", &countingFetcher{archive: archive})

	road, ok, err := resolver.Resolve(context.Background(), "2001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A58", road)

	road, ok, err = resolver.Resolve(context.Background(), "2002")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "N35", road)
}

func TestTableIsCachedUntilExpiry(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{"LOCATIONS.csv": []byte("LOC_NR,ROADNUMBER\n1,A1\n")})
	fetcher := &countingFetcher{archive: archive}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewResolver("table.zip", fetcher)
	resolver.Cache.Now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, _, err := resolver.Resolve(context.Background(), "1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fetcher.calls)

	now = now.Add(DefaultTTL + time.Minute)
	_, _, err := resolver.Resolve(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestStaleTableServedOnRefreshFailure(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{"LOCATIONS.csv": []byte("LOC_NR,ROADNUMBER\n1,A1\n")})
	fetcher := &countingFetcher{archive: archive}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewResolver("table.zip", fetcher)
	resolver.Cache.Now = func() time.Time { return now }

	_, _, err := resolver.Resolve(context.Background(), "1")
	require.NoError(t, err)

	now = now.Add(DefaultTTL * 2)
	fetcher.err = errors.New("connection reset")

	road, ok, err := resolver.Resolve(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A1", road)
}

func TestFailedRefreshIsNotRetriedPerLookup(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{"LOCATIONS.csv": []byte("LOC_NR,ROADNUMBER\n1,A1\n")})
	fetcher := &countingFetcher{archive: archive}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewResolver("table.zip", fetcher)
	resolver.Cache.Now = func() time.Time { return now }

	_, _, err := resolver.Resolve(context.Background(), "1")
	require.NoError(t, err)

	now = now.Add(DefaultTTL + time.Minute)
	fetcher.err = &traffic.FetchError{URL: "table.zip", StatusCode: 503}

	for i := 0; i < 300; i++ {
		road, ok, err := resolver.Resolve(context.Background(), "1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "A1", road)
	}
	assert.Equal(t, 2, fetcher.calls)

	now = now.Add(DefaultRetryAfter)
	fetcher.err = nil
	_, _, err = resolver.Resolve(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.calls)
}

func TestResolutionErrorWithoutTable(t *testing.T) {
	resolver := NewResolver("table.zip", &countingFetcher{err: errors.New("boom")})

	_, ok, err := resolver.Resolve(context.Background(), "1")
	assert.False(t, ok)

	var resolutionError *traffic.ResolutionError
	require.ErrorAs(t, err, &resolutionError)
	assert.Equal(t, "location table", resolutionError.Table)
}

func TestParseMissingTable(t *testing.T) {
	resolver := NewResolver("table.zip", nil)

	_, err := resolver.Parse(buildArchive(t, map[string][]byte{"OTHER.csv": []byte("a,b\n")}))
	assert.Error(t, err)

	_, err = resolver.Parse([]byte("not a zip"))
	assert.Error(t, err)
}
