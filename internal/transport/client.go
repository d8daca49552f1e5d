package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagebridge/internal/logging"
	"github.com/GriffinCanCode/pagebridge/internal/page"
)

// RequestIDHeader carries a fresh UUID on every outgoing request.
const RequestIDHeader = "X-Request-Id"

// Client performs page fetches over HTTP with retries, rate limiting and a
// circuit breaker per host.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *monitoring.Metrics

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

type options struct {
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	timeout   time.Duration
	retries   int
	minWait   time.Duration
	maxWait   time.Duration
	rps       float64
	userAgent string
	threshold int
	cooldown  time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records fetch counts and latency.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimeout bounds a whole request including retries.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry configures retry behavior for connection errors, 429 and 5xx.
func WithRetry(maxRetries int, minWait, maxWait time.Duration) Option {
	return func(o *options) {
		o.retries = maxRetries
		o.minWait = minWait
		o.maxWait = maxWait
	}
}

// WithRateLimit caps requests per second. Zero or less is unlimited.
func WithRateLimit(rps float64) Option {
	return func(o *options) { o.rps = rps }
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithBreaker sets how many consecutive failures open a host's breaker and
// how long it stays open.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(o *options) {
		o.threshold = threshold
		o.cooldown = cooldown
	}
}

// FromConfig translates the fetch section of the configuration.
func FromConfig(cfg config.FetchConfig) []Option {
	return []Option{
		WithTimeout(cfg.Timeout.Duration),
		WithRetry(cfg.Retries, 250*time.Millisecond, 5*time.Second),
		WithRateLimit(cfg.RPS),
		WithUserAgent(cfg.UserAgent),
	}
}

// New creates a client.
func New(opts ...Option) *Client {
	o := options{
		timeout:   30 * time.Second,
		retries:   3,
		minWait:   time.Second,
		maxWait:   30 * time.Second,
		userAgent: "pagebridge/1.0",
		threshold: 10,
		cooldown:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger).Named("transport")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = o.retries
	retryClient.RetryWaitMin = o.minWait
	retryClient.RetryWaitMax = o.maxWait
	retryClient.Logger = leveled{logger.Sugar()}
	// Hand the last response back instead of an error so the page sees
	// the real status once retries are exhausted.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient.Transport = gzhttp.Transport(retryClient.HTTPClient.Transport)

	restyClient := resty.New().
		SetTimeout(o.timeout).
		SetLogger(logger.Sugar()).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient})
	if o.userAgent != "" {
		restyClient.SetHeader("User-Agent", o.userAgent)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if o.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rps), max(int(o.rps), 1))
	}

	return &Client{
		resty:     restyClient,
		limiter:   limiter,
		logger:    logger,
		metrics:   o.metrics,
		threshold: o.threshold,
		cooldown:  o.cooldown,
		now:       time.Now,
		breakers:  make(map[string]*breaker),
	}
}

// Fetch implements page.Fetcher. Any HTTP status is a response; only
// transport failures, an open breaker and rate limit waits that cannot be
// satisfied are errors.
func (c *Client) Fetch(ctx context.Context, req page.FetchRequest) (*page.FetchResponse, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse fetch url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", target.Scheme)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	b := c.breaker(target.Host)
	if err := b.allow(); err != nil {
		return nil, fmt.Errorf("%s: %w", target.Host, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	requestID := uuid.NewString()

	r := c.resty.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, requestID).
		SetHeaders(req.Headers)
	if req.Body != "" {
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := r.Execute(method, req.URL)
	elapsed := time.Since(start)

	if err != nil {
		b.record(false)
		c.metrics.RecordFetch(0, elapsed)
		c.logger.Warn("fetch failed",
			zap.String("method", method),
			zap.String("url", req.URL),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}

	status := resp.StatusCode()
	b.record(status < http.StatusInternalServerError)
	c.metrics.RecordFetch(status, elapsed)
	c.logger.Debug("fetch",
		zap.String("method", method),
		zap.String("url", req.URL),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
		zap.String("request_id", requestID))

	return &page.FetchResponse{
		Status:     status,
		StatusText: statusText(resp),
		URL:        finalURL(resp, req.URL),
		Headers:    flatten(resp.Header()),
		Body:       resp.Body(),
	}, nil
}

// Get fetches a document and fails on HTTP error statuses.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Fetch(ctx, page.FetchRequest{Method: http.MethodGet, URL: rawURL})
	if err != nil {
		return nil, err
	}
	if resp.Status >= http.StatusBadRequest {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.Status)
	}
	return resp.Body, nil
}

// BreakerState returns the breaker state for host.
func (c *Client) BreakerState(host string) State {
	return c.breaker(host).State()
}

func (c *Client) breaker(host string) *breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[host]
	if !ok {
		b = newBreaker(c.threshold, c.cooldown, c.now)
		c.breakers[host] = b
	}
	return b
}

func statusText(resp *resty.Response) string {
	text := strings.TrimPrefix(resp.Status(), strconv.Itoa(resp.StatusCode()))
	return strings.TrimSpace(text)
}

func finalURL(resp *resty.Response, fallback string) string {
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		return resp.RawResponse.Request.URL.String()
	}
	return fallback
}

// flatten lower-cases header names and joins repeated values.
func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct {
	s *zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
