// Package client provides the catalog HTTP client with request pacing, rate
// limit gating, response caching, retries and typed errors.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/inventory-engine/pkg/cache"
	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/Sternrassler/inventory-engine/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-ID"

// Client talks to the catalog service.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	pacer       *rate.Limiter
	retry       RetryPolicy
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the catalog service, e.g. "https://catalog.example.com".
	BaseURL string

	// Redis enables the response cache and shared rate limit state.
	// Nil disables both.
	Redis *redis.Client

	// User-Agent header (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// RateLimit paces outgoing requests (requests per second). Zero disables pacing.
	RateLimit float64
	Burst     int

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string, redis *redis.Client, userAgent string) Config {
	return Config{
		BaseURL:        baseURL,
		Redis:          redis,
		UserAgent:      userAgent,
		RateLimit:      10,
		Burst:          5,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
	}
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := logging.NewLogger("catalog-client")

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		retry:      scaledPolicy(cfg.MaxRetries, cfg.InitialBackoff),
		config:     cfg,
		logger:     logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
		c.cache = cache.NewManager(cfg.Redis)
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c, nil
}

// Do performs an HTTP request with pacing, rate limit gating, caching and
// retries.
//
// Responses with a 4xx status are returned to the caller unchanged. Server,
// rate limit and network failures are retried and surface as an error once
// retries are exhausted.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := routeLabel(req.URL.Path)

	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(HeaderRequestID, requestID)
	}
	logger := c.logger.With().
		Str("endpoint", endpoint).
		Str("request_id", requestID).
		Logger()

	startTime := time.Now()
	defer func() {
		catalogRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Rate limit gate
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Rate limit check failed")
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			logger.Warn().Msg("Request blocked by rate limiter")
			catalogRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return nil, ErrRateLimited
		}
	}

	// Step 2: Cache lookup
	cacheKey := cache.Key{
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		UserID: userScope(ctx),
	}

	var cachedEntry *cache.Entry
	if c.cache != nil && req.Method == http.MethodGet {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Cache get error")
		}
		cachedEntry = entry
	}

	// Step 3: Conditional request when the cached entry has a validator
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		logger.Debug().Str("etag", cachedEntry.ETag).Msg("Making conditional request")
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	// Step 4: Execute with retry
	logger.Debug().Str("method", req.Method).Msg("Executing catalog request")

	var resp *http.Response
	retryErr := retryWithPolicy(ctx, c.retry, func() error {
		if err := c.pace(ctx); err != nil {
			return err
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			logger.Error().Err(reqErr).Msg("HTTP request failed")
			catalogErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			catalogRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		errClass := classifyStatus(resp.StatusCode)
		if errClass == "" {
			return nil
		}

		catalogErrorsTotal.WithLabelValues(string(errClass)).Inc()
		catalogRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Catalog request error")

		if !shouldRetry(errClass) {
			// 4xx goes back to the caller as a response
			return nil
		}

		resp.Body.Close()
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}, classifyError)

	if retryErr != nil {
		return nil, retryErr
	}

	// Step 5: 304 Not Modified answers from the cache
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		logger.Debug().Msg("304 Not Modified - using cache")
		catalogRequestsTotal.WithLabelValues(endpoint, "304").Inc()
		cache.NotModifiedResponses.Inc()
		resp.Body.Close()

		if cache.HasFreshness(resp.Header) {
			if err := c.cache.Refresh(ctx, cacheKey, cache.Expiry(resp.Header)); err != nil {
				logger.Warn().Err(err).Msg("Failed to refresh cache entry")
			}
		}
		return cache.EntryToResponse(cachedEntry), nil
	}

	if resp.StatusCode < 400 {
		catalogRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	}

	// Step 6: Store successful GETs
	if c.cache != nil && req.Method == http.MethodGet && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				logger.Debug().Dur("ttl", entry.TTL()).Msg("Cached response")
			}
		}
	}

	return resp, nil
}

// pace waits for the request pacer.
func (c *Client) pace(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}
	start := time.Now()
	if err := c.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	catalogPacingWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// Get performs a GET request against a path relative to the base URL.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// resolve builds an absolute URL. Absolute paths (e.g. thumbnail image URLs)
// are used as they are.
func (c *Client) resolve(path string, query url.Values) string {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	u := c.baseURL.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Close closes the client and releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, nil without Redis.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// InvalidateUser drops the cached responses of userID so the next loads are
// fetched unconditionally. It is a no-op without Redis.
func (c *Client) InvalidateUser(ctx context.Context, userID int64) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	n, err := c.cache.InvalidateUser(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("invalidate cache of user %d: %w", userID, err)
	}
	return n, nil
}

// routeLabel collapses numeric path segments so per-user routes share one
// metric series.
func routeLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

type userScopeKey struct{}

// withUserScope marks requests made with ctx as belonging to userID so their
// cached responses are keyed per user.
func withUserScope(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userScopeKey{}, userID)
}

func userScope(ctx context.Context) int64 {
	id, _ := ctx.Value(userScopeKey{}).(int64)
	return id
}
