package inject

import (
	"fmt"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagebridge/internal/jsval"
	"github.com/GriffinCanCode/pagebridge/internal/page"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoAttachPoint means the target document has no head or root element.
var ErrNoAttachPoint = page.ErrNoAttachPoint

// Document is the target context as seen by the injector. Inserting a script
// element must run it before Insert returns. *page.Page implements it.
type Document interface {
	Insert(n *html.Node) error
	Remove(n *html.Node)
	Contains(n *html.Node) bool
}

// Option configures an Injector or Invoker.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	serializer *jsval.Serializer
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records injections.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSerializer sets the serializer used for invocation arguments. The
// default is strict.
func WithSerializer(s *jsval.Serializer) Option {
	return func(o *options) { o.serializer = s }
}

func resolve(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.serializer == nil {
		o.serializer = jsval.New()
	}
	return o
}

// Injector inserts script artifacts into a document.
type Injector struct {
	doc     Document
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewInjector creates an injector for doc.
func NewInjector(doc Document, opts ...Option) *Injector {
	o := resolve(opts)
	return &Injector{
		doc:     doc,
		logger:  o.logger.Named("inject"),
		metrics: o.metrics,
	}
}

// Inject builds a script element holding source, gives it id when id is not
// empty, and inserts it. Insertion runs the script. Unless retain is set the
// element is removed again straight away.
func (i *Injector) Inject(source string, retain bool, id string) (*Artifact, error) {
	n := &html.Node{Type: html.ElementNode, Data: "script", DataAtom: atom.Script}
	if id != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "id", Val: id})
	}
	if source != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: source})
	}

	if err := i.doc.Insert(n); err != nil {
		i.metrics.RecordInjectionFailure()
		i.logger.Error("Injection failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("inject %q: %w", id, err)
	}
	if !retain {
		i.doc.Remove(n)
	}

	i.metrics.RecordInjection(retain, len(source))
	i.logger.Debug("Injected artifact",
		zap.String("id", id),
		zap.Bool("retained", retain),
		zap.Int("bytes", len(source)))

	return &Artifact{id: id, source: source, retained: retain, node: n, doc: i.doc}, nil
}

// Artifact is the handle of one injected script element.
type Artifact struct {
	id       string
	source   string
	retained bool
	node     *html.Node
	doc      Document
}

// ID returns the element id, or "" when none was given.
func (a *Artifact) ID() string { return a.id }

// Source returns the script text.
func (a *Artifact) Source() string { return a.source }

// Retained reports whether the element was left in the document.
func (a *Artifact) Retained() bool { return a.retained }

// Node returns the script element.
func (a *Artifact) Node() *html.Node { return a.node }

// Attached reports whether the element is currently in the document.
func (a *Artifact) Attached() bool { return a.doc.Contains(a.node) }

// Remove takes the element out of the document. Effects of the script that
// already ran are not undone.
func (a *Artifact) Remove() { a.doc.Remove(a.node) }
