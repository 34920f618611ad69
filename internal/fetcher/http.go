// Package fetcher wraps net/http with RHOF's three fetch disciplines
// (spec §4.2): classified retry with backoff, per-host rate limiting,
// and a concurrency cap — handing every successful body to the artifact
// store.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/rhof/internal/artifact"
	"github.com/sells-group/rhof/internal/model"
	"github.com/sells-group/rhof/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent          string
	Timeout            time.Duration
	MaxRetries         int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	MaxConcurrency     int64 // global in-flight cap
	PerHostConcurrency int64

	// CircuitFailureThreshold and CircuitResetSeconds tune the per-host
	// circuit breaker gating live fetches; zero picks
	// resilience.DefaultCircuitBreakerConfig's values.
	CircuitFailureThreshold int
	CircuitResetSeconds     int
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial). On 429 it
// halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter seeded at
// initialRate with the given burst, tuning itself between
// initialRate/4 and initialRate*2 as requests succeed or get 429'd.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses, down to a 1/4 floor.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429", zap.Float64("new_rate", float64(newRate)))
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// hostLimiter bundles the fixed per-source token bucket with its
// adaptive overlay and a per-host concurrency semaphore.
type hostLimiter struct {
	fixed    *rate.Limiter
	adaptive *AdaptiveLimiter
	sem      *semaphore.Weighted
}

// HTTPFetcher implements the Fetcher contract using net/http, handing
// every successful response body to an artifact.Store.
type HTTPFetcher struct {
	client    *http.Client
	opts      HTTPOptions
	store     *artifact.Store
	globalSem *semaphore.Weighted
	breakers  *resilience.ServiceBreakers

	mu    sync.Mutex
	hosts map[string]*hostLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher writing successful fetches
// into store.
func NewHTTPFetcher(opts HTTPOptions, store *artifact.Store) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 4
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "rhof-bot/0.1"
	}
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = 20
	}
	if opts.PerHostConcurrency == 0 {
		opts.PerHostConcurrency = 4
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	circuitCfg := resilience.FromCircuitConfig(opts.CircuitFailureThreshold, opts.CircuitResetSeconds)
	// A terminal status (404, 501, ...) is the remote server telling us
	// no, not the remote server being down; only transient failures
	// should count toward tripping the breaker.
	circuitCfg.ShouldTrip = resilience.IsTransient

	return &HTTPFetcher{
		client:    &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:      opts,
		store:     store,
		globalSem: semaphore.NewWeighted(opts.MaxConcurrency),
		breakers:  resilience.NewServiceBreakers(circuitCfg),
		hosts:     make(map[string]*hostLimiter),
	}
}

// ConfigureSource registers per-source rate-limit tuning for host,
// replacing any limiter already built for it. A host that was never
// configured gets a limiter built from model.DefaultSourceConfig's rate
// on its first Fetch.
func (f *HTTPFetcher) ConfigureSource(host string, cfg model.SourceConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rateLimit := cfg.RateLimitPerSec
	if rateLimit <= 0 {
		rateLimit = model.DefaultSourceConfig().RateLimitPerSec
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = model.DefaultSourceConfig().RateLimitBurst
	}
	f.hosts[host] = &hostLimiter{
		fixed:    rate.NewLimiter(rate.Limit(rateLimit), burst),
		adaptive: NewAdaptiveLimiter(rate.Limit(rateLimit), burst),
		sem:      semaphore.NewWeighted(f.opts.PerHostConcurrency),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *hostLimiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if hl, ok := f.hosts[u.Host]; ok {
		return hl
	}
	def := model.DefaultSourceConfig()
	hl := &hostLimiter{
		fixed:    rate.NewLimiter(rate.Limit(def.RateLimitPerSec), def.RateLimitBurst),
		adaptive: NewAdaptiveLimiter(rate.Limit(def.RateLimitPerSec), def.RateLimitBurst),
		sem:      semaphore.NewWeighted(f.opts.PerHostConcurrency),
	}
	f.hosts[u.Host] = hl
	return hl
}

// FetchResult pairs the raw bytes fetched with the metadata later
// promoted into a model.RawArtifact once persisted.
type FetchResult struct {
	Body        []byte
	ContentType string
	HTTPStatus  int
	FetchedAt   time.Time
}

// Fetch performs a classified-retry GET against rawURL and, on success,
// hands the body to the artifact store, returning both the resulting
// artifact placement and the raw fetch metadata. A terminal non-2xx
// response (404, 501, ...) is a failure, not a success: it is returned
// as an error and its body is never written to the artifact store.
// Failure after the final transient attempt surfaces a
// Transport-flavored error; no artifact is written in that case
// either. A per-host circuit breaker gates the whole retry sequence: a
// host with too many consecutive transient failures rejects new
// fetches immediately instead of retrying into a dead service, but a
// terminal status never counts against it.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceID, rawURL string) (*artifact.PutResult, *FetchResult, error) {
	if err := f.globalSem.Acquire(ctx, 1); err != nil {
		return nil, nil, eris.Wrap(err, "fetcher: acquire global concurrency slot")
	}
	defer f.globalSem.Release(1)

	hl := f.limiterFor(rawURL)
	if hl != nil {
		if err := hl.sem.Acquire(ctx, 1); err != nil {
			return nil, nil, eris.Wrap(err, "fetcher: acquire per-host concurrency slot")
		}
		defer hl.sem.Release(1)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "fetcher: build request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	cb := f.breakers.Get(hostOf(rawURL))
	resp, err := resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*http.Response, error) {
		return f.doWithRetry(ctx, req, hl)
	})
	if err != nil {
		var tse *terminalStatusError
		if errors.As(err, &tse) {
			return nil, nil, eris.Wrapf(err, "fetcher: %s", rawURL)
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, nil, eris.Wrapf(err, "fetcher: %s", rawURL)
		}
		return nil, nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: fetch"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "fetcher: read body")
	}

	fetchedAt := time.Now().UTC()
	contentType := resp.Header.Get("Content-Type")
	fr := &FetchResult{Body: body, ContentType: contentType, HTTPStatus: resp.StatusCode, FetchedAt: fetchedAt}

	put, err := f.store.Put(sourceID, rawURL, contentType, body)
	if err != nil {
		return nil, fr, eris.Wrap(err, "fetcher: store artifact")
	}
	return put, fr, nil
}

// doWithRetry issues req through resilience.Do, retrying transport
// errors and retryable HTTP statuses (resilience.IsTransientHTTPStatus)
// for at most opts.MaxRetries attempts in total (the first try
// included) with resilience's exponential-plus-jitter
// backoff. A Retry-After header, when present, is honored as an
// additional floor slept before that backoff runs.
func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request, hl *hostLimiter) (*http.Response, error) {
	cfg := resilience.FromRetryConfig(f.opts.MaxRetries, int(f.opts.BaseBackoff/time.Millisecond), int(f.opts.MaxBackoff/time.Millisecond), 2.0, 0.25)
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("http request failed, retrying",
			zap.String("url", req.URL.String()), zap.Int("attempt", attempt), zap.Error(err))
		if floor := retryAfterFloor(err); floor > 0 {
			waitFloor(ctx, floor)
		}
	}

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		if hl != nil {
			if err := hl.fixed.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limiter wait")
			}
			if hl.adaptive != nil {
				if err := hl.adaptive.Wait(ctx); err != nil {
					return nil, eris.Wrap(err, "rate limiter wait")
				}
			}
		}

		cloned := req.Clone(ctx)
		resp, err := f.client.Do(cloned)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if hl != nil && hl.adaptive != nil {
				hl.adaptive.OnSuccess()
			}
			return resp, nil
		}

		if !resilience.IsTransientHTTPStatus(resp.StatusCode) {
			status := resp.StatusCode
			_ = resp.Body.Close()
			return nil, newTerminalStatusError(status, req.URL.String())
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests && hl != nil && hl.adaptive != nil {
			hl.adaptive.OnRateLimit()
		}
		return nil, newRetryAfterError(resp.StatusCode, req.URL.String(), retryAfter)
	})
	if err != nil {
		var tse *terminalStatusError
		if errors.As(err, &tse) {
			return nil, err
		}
		return nil, eris.Wrap(err, "all retries exhausted")
	}
	return resp, nil
}

// retryAfterError is a resilience.TransientError that also carries a
// Retry-After floor for doWithRetry's OnRetry hook to honor before
// resilience.Do's own backoff runs.
type retryAfterError struct {
	err   *resilience.TransientError
	after time.Duration
}

func newRetryAfterError(status int, requestURL string, after time.Duration) error {
	return &retryAfterError{
		err:   resilience.NewTransientError(eris.Errorf("http %d from %s", status, requestURL), status),
		after: after,
	}
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// terminalStatusError reports a non-2xx response that resilience's
// transient-status classifier says is not worth retrying (404, 501,
// ...). It deliberately does not wrap resilience.TransientError, so
// resilience.IsTransient (the default ShouldRetry check, and the
// ShouldTrip check NewHTTPFetcher installs)
// treats it as a hard failure: no further attempts, no circuit-breaker
// credit against the host.
type terminalStatusError struct {
	StatusCode int
	URL        string
}

func newTerminalStatusError(status int, requestURL string) error {
	return &terminalStatusError{StatusCode: status, URL: requestURL}
}

func (e *terminalStatusError) Error() string {
	return eris.Errorf("http %d from %s (terminal, not retrying)", e.StatusCode, e.URL).Error()
}

func retryAfterFloor(err error) time.Duration {
	var rae *retryAfterError
	if errors.As(err, &rae) {
		return rae.after
	}
	return 0
}

// parseRetryAfter parses a Retry-After header given in seconds. RHOF's
// sources never send the HTTP-date form; a malformed or absent header
// yields zero (no floor).
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func waitFloor(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// hostOf returns rawURL's host for circuit-breaker keying, or the raw
// string itself if it fails to parse (so a malformed URL still gets a
// dedicated breaker instead of sharing one with valid hosts).
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
