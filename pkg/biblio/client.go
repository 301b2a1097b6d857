// Package biblio talks to the read-only bibliographic service (Open Library
// compatible) that provides canonical keys, covers and author photos.
package biblio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/folio-graph/folio/internal/metrics"
	"github.com/folio-graph/folio/pkg/cache"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/logger"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://openlibrary.org"
	DefaultCoversURL = "https://covers.openlibrary.org"

	defaultMinInterval  = 200 * time.Millisecond
	defaultCacheMax     = 512
	defaultCacheTTL     = 6 * time.Hour
	defaultNetworkRetry = 750 * time.Millisecond
	defaultFetchTimeout = 30 * time.Second
	maxBodyBytes        = 4 << 20
	serviceName         = "bibliographic"
)

// every client created without its own interval shares this throttle
var processLimiter = rate.NewLimiter(rate.Every(defaultMinInterval), 1)

// Params configures NewClient. Zero values fall back to the defaults above.
type Params struct {
	BaseURL   string
	CoversURL string
	// MinInterval is the minimum spacing between outbound calls. Zero uses
	// the process-wide throttle of one call per 200ms.
	MinInterval time.Duration
	CacheMax    int
	CacheTTL    time.Duration
	// NetworkRetryDelay is the pause before the single retry after a
	// network failure.
	NetworkRetryDelay time.Duration
	// FetchTimeout bounds one shared fetch including throttle waits and the
	// network retry.
	FetchTimeout      time.Duration
	HTTPClient        *http.Client
	Shared            *cache.RedisStore
	UserAgent         string
}

// Client is safe for concurrent use.
type Client struct {
	baseURL      string
	coversURL    string
	userAgent    string
	httpClient   *http.Client
	limiter      *rate.Limiter
	cache        *cache.LRU[string, []byte]
	shared       *cache.RedisStore
	group        singleflight.Group
	retryDelay   time.Duration
	fetchTimeout time.Duration
}

func NewClient(params Params) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(params.BaseURL, "/"),
		coversURL:    strings.TrimRight(params.CoversURL, "/"),
		userAgent:    params.UserAgent,
		httpClient:   params.HTTPClient,
		limiter:      processLimiter,
		shared:       params.Shared,
		retryDelay:   params.NetworkRetryDelay,
		fetchTimeout: params.FetchTimeout,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.coversURL == "" {
		c.coversURL = DefaultCoversURL
	}
	if c.userAgent == "" {
		c.userAgent = "folio/1.0"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if params.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(params.MinInterval), 1)
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultNetworkRetry
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = defaultFetchTimeout
	}

	size := params.CacheMax
	if size <= 0 {
		size = defaultCacheMax
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c.cache = cache.New[string, []byte](size, ttl)

	return c
}

// CoversURL returns the base URL images are served from.
func (c *Client) CoversURL() string {
	return c.coversURL
}

// Fetch returns the body of a GET on path (which may carry a query
// string). Cached bodies are returned without touching the network or the
// throttle; concurrent misses for the same path share one request.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	if body, ok := c.cache.Get(path); ok {
		metrics.CacheHit(serviceName)
		return body, nil
	}
	metrics.CacheMiss(serviceName)

	if c.shared != nil {
		body, ok, err := c.shared.Get(ctx, path)
		if err != nil {
			logger.Warn("[Biblio] Shared cache read failed", "err", err)
		} else if ok {
			c.cache.Set(path, body)
			return body, nil
		}
	}

	// the shared fetch outlives any single caller; each caller only stops
	// waiting when its own context ends
	ch := c.group.DoChan(path, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		body, err := c.fetchWithNetworkRetry(fetchCtx, path)
		if err != nil {
			return nil, err
		}
		c.cache.Set(path, body)
		if c.shared != nil {
			if err := c.shared.Set(fetchCtx, path, body); err != nil {
				logger.Warn("[Biblio] Shared cache write failed", "err", err)
			}
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debug("[Biblio] Collapsed duplicate fetch", "path", path)
		}
		return res.Val.([]byte), nil
	}
}

func (c *Client) fetchWithNetworkRetry(ctx context.Context, path string) ([]byte, error) {
	body, err := c.fetchOnce(ctx, path)
	if err == nil || !isNetworkFailure(err) {
		return body, err
	}

	logger.Debug("[Biblio] Network failure, retrying once", "path", path, "err", err)
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return c.fetchOnce(ctx, path)
}

func (c *Client) fetchOnce(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream(serviceName, start, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &common.UpstreamError{Service: serviceName, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ObserveUpstream(serviceName, start, err)
		return nil, &common.UpstreamError{Service: serviceName, Transient: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &common.UpstreamError{
			Service: serviceName,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("GET %s: %s", path, resp.Status),
		}
		metrics.ObserveUpstream(serviceName, start, err)
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", common.ErrNotFound, err)
		}
		return nil, err
	}

	metrics.ObserveUpstream(serviceName, start, nil)
	return body, nil
}

// isNetworkFailure matches failures where no HTTP status was received.
func isNetworkFailure(err error) bool {
	var ue *common.UpstreamError
	return errors.As(err, &ue) && ue.Status == 0 && ue.Transient
}

// buildPath encodes query deterministically so equal lookups share a cache
// entry.
func buildPath(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
