package page

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

var (
	// ErrNoAttachPoint means the document has neither a head nor a root element.
	ErrNoAttachPoint = errors.New("page: document has no head or root element")
	// ErrClosed is returned by every operation on a closed page.
	ErrClosed = errors.New("page: closed")
	// ErrTaskBudget means Drain stopped with tasks still queued.
	ErrTaskBudget = errors.New("page: task budget exhausted")
	// ErrNotHTML is returned by Load for input that is not an HTML document.
	ErrNotHTML = errors.New("page: input is not HTML")
	// ErrTooLarge is returned by Load for input above the configured limit.
	ErrTooLarge = errors.New("page: document too large")
)

// LogEntry is one console call made by page code, or one uncaught page error.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// FetchRequest is what page code passed to fetch.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// FetchResponse is handed back to page code as a Response.
type FetchResponse struct {
	Status     int
	StatusText string
	URL        string
	Headers    map[string]string
	Body       []byte
}

// Fetcher performs network requests for page fetch calls.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req FetchRequest) (*FetchResponse, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	return f(ctx, req)
}

// Option configures a Page.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	metrics       *monitoring.Metrics
	fetcher       Fetcher
	url           string
	scriptTimeout time.Duration
	taskBudget    int
	maxHTMLBytes  int64
}

func defaultOptions() options {
	return options{
		url:           "about:blank",
		scriptTimeout: 5 * time.Second,
		taskBudget:    10000,
		maxHTMLBytes:  10 << 20,
	}
}

// WithLogger sets the logger. Page console output is mirrored at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records page script executions.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFetcher backs the page fetch function. Without one, fetch rejects.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithURL sets the document URL used to resolve relative fetch URLs.
func WithURL(u string) Option {
	return func(o *options) { o.url = u }
}

// WithScriptTimeout bounds each top-level script, timer callback and evaluation.
// Zero disables the bound.
func WithScriptTimeout(d time.Duration) Option {
	return func(o *options) { o.scriptTimeout = d }
}

// WithTaskBudget limits how many queued tasks one Drain call runs. Zero means no limit.
func WithTaskBudget(n int) Option {
	return func(o *options) { o.taskBudget = n }
}

// WithMaxHTMLBytes limits the input accepted by Load. Zero means no limit.
func WithMaxHTMLBytes(n int64) Option {
	return func(o *options) { o.maxHTMLBytes = n }
}
