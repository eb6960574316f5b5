package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	_, err := writer.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return buffer.Bytes()
}

func TestFetchDecompressesGzip(t *testing.T) {
	payload := []byte("<d2LogicalModel/>")
	compressed := gzipBytes(t, payload)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write(compressed)
	}))
	defer server.Close()

	data, err := NewClient().Fetch(context.Background(), server.URL, WithBearerToken("secret"))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchReturnsFetchErrorWithoutRetryingClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient().Fetch(context.Background(), server.URL)
	require.Error(t, err)

	var fetchError *traffic.FetchError
	require.True(t, errors.As(err, &fetchError))
	assert.Equal(t, http.StatusNotFound, fetchError.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	data, err := NewClient().Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient().Fetch(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamDecompresses(t *testing.T) {
	payload := []byte("<measurementSiteTable/>")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipBytes(t, payload))
	}))
	defer server.Close()

	reader, err := NewClient().Stream(context.Background(), server.URL)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDecompressPassesThroughPlainData(t *testing.T) {
	data, err := Decompress([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), data)
}
