// Package fetch owns all outbound HTTP. A single pooled client enforces the
// connection limits; Fetch layers conditional requests and content-hash
// change detection on top for feed and calendar sources.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/herr"
	"github.com/herald-labs/herald/internal/storage"
)

type Status int

const (
	// Changed: 200 with content whose hash differs from the stored one.
	Changed Status = iota
	// NotModified: the server answered 304 to our conditional request.
	NotModified
	// Unchanged: 200, but the body hashes to the stored value.
	Unchanged
)

type Result struct {
	Status Status
	Body   []byte
	Hash   string
}

// CacheStore is the slice of the persistent store the fetcher needs.
type CacheStore interface {
	FeedCache(ctx context.Context, url string) (*storage.FeedHTTPCache, error)
	SetFeedCache(ctx context.Context, c *storage.FeedHTTPCache) error
}

type Fetcher struct {
	client    *http.Client
	cache     CacheStore
	userAgent string
	maxBody   int64
	logger    zerolog.Logger
}

const defaultMaxBody = 10 << 20

func New(cfg config.HTTPConfig, cache CacheStore, logger zerolog.Logger) *Fetcher {
	dialer := newCachingDialer(&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: cfg.KeepAlive,
	}, cfg.DNSCacheTTL)

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxConns,
		MaxConnsPerHost:     cfg.MaxPerHost,
		MaxIdleConnsPerHost: cfg.MaxPerHost,
		IdleConnTimeout:     cfg.KeepAlive,
		ForceAttemptHTTP2:   true,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cache:     cache,
		userAgent: cfg.UserAgent,
		maxBody:   defaultMaxBody,
		logger:    logger,
	}
}

// Client exposes the pooled client so other outbound callers (webhooks,
// geocoding) share the same limits.
func (f *Fetcher) Client() *http.Client { return f.client }

// Fetch performs a conditional GET against url. Cache state is advisory:
// a missing or stale row only costs an unconditional request.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	cached, err := f.cache.FeedCache(ctx, url)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("feed cache read failed, fetching unconditionally")
		cached = nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, herr.New(herr.PermanentSource, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	// Accept-Encoding stays unset so the transport negotiates gzip and
	// decompresses transparently.
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, herr.New(herr.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.touch(ctx, url, cached)
		return &Result{Status: NotModified, Hash: hashOf(cached)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, herr.Newf(herr.FromStatus(resp.StatusCode), "fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, herr.New(herr.Transient, fmt.Errorf("read body: %w", err))
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	if cached != nil && cached.ContentHash == hash {
		f.touch(ctx, url, cached)
		return &Result{Status: Unchanged, Body: body, Hash: hash}, nil
	}

	entry := &storage.FeedHTTPCache{
		URL:          url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		ContentHash:  hash,
	}
	if err := f.cache.SetFeedCache(ctx, entry); err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("feed cache write failed")
	}

	return &Result{Status: Changed, Body: body, Hash: hash}, nil
}

// Get is a plain request without the conditional-cache layer, for
// geocoding, OpenGraph and profile-API lookups.
func (f *Fetcher) Get(ctx context.Context, url string, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, herr.New(herr.PermanentSource, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, herr.New(herr.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, herr.Newf(herr.FromStatus(resp.StatusCode), "get %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
}

func (f *Fetcher) touch(ctx context.Context, url string, cached *storage.FeedHTTPCache) {
	if cached == nil {
		return
	}
	if err := f.cache.SetFeedCache(ctx, cached); err != nil {
		f.logger.Debug().Err(err).Str("url", url).Msg("feed cache touch failed")
	}
}

func hashOf(c *storage.FeedHTTPCache) string {
	if c == nil {
		return ""
	}
	return c.ContentHash
}
