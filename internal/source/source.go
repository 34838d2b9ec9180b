// File: internal/source/source.go

// Package source loads baseline and current documents for evaluation. A
// reference is either a local file path or an HTTP(S) URL; either way the
// result is a parsed JSON value ready for the differ.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultTimeout bounds a fetch when the caller configured none.
const defaultTimeout = 30 * time.Second

// Options tunes a Loader. A nil Client gets a default one with Timeout
// applied; RateLimit at or below zero disables request pacing.
type Options struct {
	Client    *http.Client
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Headers   map[string]string
}

// Loader fetches and decodes JSON documents. Safe for concurrent use.
type Loader struct {
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
	headers map[string]string
}

// NewLoader builds a loader from the options.
func NewLoader(logger *zap.Logger, opts Options) *Loader {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Loader{
		logger:  logger.Named("source"),
		client:  client,
		limiter: limiter,
		headers: opts.Headers,
	}
}

// Load reads and decodes one JSON document. A ref starting with http:// or
// https:// is fetched over the network; anything else is a file path.
func (l *Loader) Load(ctx context.Context, ref string) (interface{}, error) {
	if isHTTP(ref) {
		return l.loadHTTP(ctx, ref)
	}
	return l.loadFile(ref)
}

func isHTTP(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (l *Loader) loadFile(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return decode(data, path)
}

func (l *Loader) loadHTTP(ctx context.Context, url string) (interface{}, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range l.headers {
		req.Header.Set(key, value)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	l.logger.Debug("document fetched",
		zap.String("url", url),
		zap.Int("bytes", len(body)),
	)
	return decode(body, url)
}

// decode parses JSON the same way the standard library would, numbers as
// float64, so documents from any source look identical to the differ.
func decode(data []byte, ref string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing JSON from %s: %w", ref, err)
	}
	return v, nil
}

// ParseHeaders turns command-line "Key: Value" pairs into a header map. The
// value keeps any colons of its own.
func ParseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", pair)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}
