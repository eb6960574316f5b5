package download

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

const defaultUserAgent = "nl-verkeer/1.0 (+https://github.com/clawbotneo/nl-verkeer)"

// RequestOption mutates an outgoing request, eg. to add authentication headers.
type RequestOption func(*http.Request)

type Client struct {
	HTTPClient *http.Client
	UserAgent  string

	// MaxRetries is the number of extra attempts for transient failures.
	MaxRetries uint64
}

func NewClient() *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &Client{
		HTTPClient: &http.Client{Transport: transport},
		UserAgent:  defaultUserAgent,
		MaxRetries: 2,
	}
}

func WithHeader(key string, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

func WithBearerToken(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// Fetch downloads source completely and transparently decompresses gzip payloads.
// Transient failures are retried with exponential backoff until ctx is done.
func (c *Client) Fetch(ctx context.Context, source string, options ...RequestOption) ([]byte, error) {
	var body []byte

	operation := func() error {
		resp, err := c.open(ctx, source, options)
		if err != nil {
			return classify(err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return classify(&traffic.FetchError{URL: source, Err: err})
		}

		return nil
	}

	retryBackoff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.MaxRetries), ctx)
	if err := backoff.Retry(operation, retryBackoff); err != nil {
		return nil, err
	}

	data, err := Decompress(body)
	if err != nil {
		return nil, &traffic.FetchError{URL: source, Err: err}
	}

	log.Debug().Str("url", source).Int("bytes", len(data)).Msg("Downloaded upstream")

	return data, nil
}

// Stream opens source for incremental reading. The returned reader is already
// decompressed when the payload is gzip. Stream does not retry.
func (c *Client) Stream(ctx context.Context, source string, options ...RequestOption) (io.ReadCloser, error) {
	resp, err := c.open(ctx, source, options)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, err
	}

	reader, err := NewDecompressingReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, &traffic.FetchError{URL: source, Err: err}
	}

	return reader, nil
}

func (c *Client) open(ctx context.Context, source string, options []RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, backoff.Permanent(&traffic.FetchError{URL: source, Err: err})
	}
	req.Header.Set("User-Agent", c.UserAgent)

	for _, option := range options {
		option(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &traffic.FetchError{URL: source, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		return nil, &traffic.FetchError{URL: source, StatusCode: resp.StatusCode}
	}

	return resp, nil
}

func classify(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return err
	}

	var fetchError *traffic.FetchError
	if errors.As(err, &fetchError) && !fetchError.Retryable() {
		return backoff.Permanent(err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	return err
}

func isGzip(header []byte) bool {
	return len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b
}

// Decompress gunzips data when it carries the gzip magic bytes and returns it unchanged otherwise.
func Decompress(data []byte) ([]byte, error) {
	if !isGzip(data) {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

type decompressingReader struct {
	io.Reader
	closers []io.Closer
}

func (d *decompressingReader) Close() error {
	var err error
	for _, closer := range d.closers {
		if closeErr := closer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// NewDecompressingReader sniffs the stream and layers a gzip reader on top when needed.
func NewDecompressingReader(body io.ReadCloser) (io.ReadCloser, error) {
	buffered := bufio.NewReader(body)

	header, err := buffered.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if !isGzip(header) {
		return &decompressingReader{Reader: buffered, closers: []io.Closer{body}}, nil
	}

	gzipReader, err := gzip.NewReader(buffered)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}

	return &decompressingReader{Reader: gzipReader, closers: []io.Closer{gzipReader, body}}, nil
}
