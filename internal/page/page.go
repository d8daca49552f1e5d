package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// Page is a target context: an HTML document with a JavaScript runtime
// attached. Inserting a script element into the document runs it.
//
// Page is safe for concurrent use. Page code itself runs on one goroutine at
// a time.
type Page struct {
	mu sync.Mutex

	vm      *goja.Runtime
	doc     *html.Node
	url     *url.URL
	logger  *zap.Logger
	metrics *monitoring.Metrics
	fetcher Fetcher
	timeout time.Duration
	budget  int

	// node identity for page code
	wrappers map[*html.Node]*goja.Object
	nodes    map[*goja.Object]*html.Node
	started  map[*html.Node]struct{}

	document *goja.Object
	current  *html.Node
	depth    int

	console []LogEntry
	tasks   taskQueue
	timers  map[int64]*task
	nextID  int64
	seq     uint64
	now     time.Duration
	ctx     context.Context

	closed bool
}

// New creates a page holding a blank document.
func New(opts ...Option) (*Page, error) {
	doc, err := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	if err != nil {
		return nil, fmt.Errorf("failed to build blank document: %w", err)
	}
	return newPage(doc, opts)
}

// NewEmpty creates a page whose document has no elements at all.
func NewEmpty(opts ...Option) (*Page, error) {
	return newPage(&html.Node{Type: html.DocumentNode}, opts)
}

// Load parses data as an HTML document and runs its inline scripts in
// document order.
func Load(data []byte, opts ...Option) (*Page, error) {
	o := resolve(opts)
	if o.maxHTMLBytes > 0 && int64(len(data)) > o.maxHTMLBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), o.maxHTMLBytes)
	}
	if !isHTML(data) {
		return nil, fmt.Errorf("%w: detected %s", ErrNotHTML, mimetype.Detect(data).String())
	}

	r, err := decode(data)
	if err != nil {
		return nil, err
	}
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	p, err := newPage(doc, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	scripts, err := htmlquery.QueryAll(doc, "//script")
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	for _, s := range scripts {
		p.prepare(s)
	}
	return p, nil
}

func resolve(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func isHTML(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/html") {
			return true
		}
	}
	return false
}

// decode converts data to UTF-8 using the detected charset.
func decode(data []byte) (io.Reader, error) {
	best, err := chardet.NewHtmlDetector().DetectBest(data)
	if err != nil || best == nil || best.Charset == "" {
		return bytes.NewReader(data), nil
	}
	r, err := charset.NewReaderLabel(best.Charset, bytes.NewReader(data))
	if err != nil {
		// Unknown label: parse the bytes as they are.
		return bytes.NewReader(data), nil
	}
	return r, nil
}

func newPage(doc *html.Node, opts []Option) (*Page, error) {
	o := resolve(opts)

	u, err := url.Parse(o.url)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", o.url, err)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Page{
		vm:       goja.New(),
		doc:      doc,
		url:      u,
		logger:   logger.Named("page"),
		metrics:  o.metrics,
		fetcher:  o.fetcher,
		timeout:  o.scriptTimeout,
		budget:   o.taskBudget,
		wrappers: make(map[*html.Node]*goja.Object),
		nodes:    make(map[*goja.Object]*html.Node),
		started:  make(map[*html.Node]struct{}),
		timers:   make(map[int64]*task),
		ctx:      context.Background(),
	}
	if err := p.setupGlobals(); err != nil {
		return nil, err
	}
	return p, nil
}

// URL returns the document URL.
func (p *Page) URL() string { return p.url.String() }

// Document returns the document node. Callers must not mutate it while page
// methods are running on other goroutines.
func (p *Page) Document() *html.Node { return p.doc }

// Insert appends n to the document head, or to the root element when there is
// no head. Scripts inside n run before Insert returns.
func (p *Page) Insert(n *html.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	parent := p.head()
	if parent == nil {
		parent = p.root()
	}
	if parent == nil {
		return ErrNoAttachPoint
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	parent.AppendChild(n)
	p.inserted(n)
	return nil
}

// Remove detaches n from its parent, if it has one.
func (p *Page) Remove(n *html.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Contains reports whether n is connected to the document.
func (p *Page) Contains(n *html.Node) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected(n)
}

// ElementByID returns the first element whose id is id.
func (p *Page) ElementByID(id string) *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID(id)
}

// RootHasClass reports whether the root element carries class.
func (p *Page) RootHasClass(class string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	root := p.root()
	if root == nil {
		return false
	}
	return selection(root).HasClass(class)
}

// AddRootClass adds class to the root element.
func (p *Page) AddRootClass(class string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	root := p.root()
	if root == nil {
		return ErrNoAttachPoint
	}
	selection(root).AddClass(class)
	return nil
}

// Evaluate runs src in the page and returns the exported completion value.
// Unlike inserted scripts, its exceptions are returned.
func (p *Page) Evaluate(src string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	var val goja.Value
	err := p.guard(func() error {
		var err error
		val, err = p.vm.RunString(src)
		return err
	})
	if err != nil {
		return nil, err
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// Console returns a copy of the console entries recorded so far.
func (p *Page) Console() []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogEntry(nil), p.console...)
}

// HTML serializes the document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	if err := html.Render(&b, p.doc); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return b.String(), nil
}

// Close releases the runtime. Queued tasks are dropped.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.tasks = nil
	p.timers = nil
	p.vm.Interrupt(ErrClosed)
	return nil
}

func (p *Page) root() *html.Node {
	for c := p.doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func (p *Page) head() *html.Node {
	root := p.root()
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Head {
			return c
		}
	}
	return nil
}

func (p *Page) body() *html.Node {
	root := p.root()
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Body {
			return c
		}
	}
	return nil
}

func (p *Page) connected(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == p.doc {
			return true
		}
	}
	return false
}

func (p *Page) byID(id string) *html.Node {
	n, err := htmlquery.Query(p.doc, "//*[@id="+xpathLiteral(id)+"]")
	if err != nil {
		return nil
	}
	return n
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

func selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}
