package hook

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagebridge/internal/inject"
	"github.com/GriffinCanCode/pagebridge/internal/jsval"
	"github.com/GriffinCanCode/pagebridge/internal/shared/id"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Version is the version of the loader and bridge.
const Version = "1.0.0"

// Default marker prefixes.
const (
	DefaultArtifactPrefix = "pagebridge-hook-js"
	DefaultMarkerPrefix   = "pagebridge-hook"
	DefaultGlobalPrefix   = "pagebridgeHook"
)

var (
	// ErrUnknownMethod is returned by Call for a method outside the supported set.
	ErrUnknownMethod = errors.New("hook: unknown method")
	// ErrNotLoaded is returned by bridge calls made before EnsureLoaded.
	ErrNotLoaded = errors.New("hook: not loaded")
)

// Method names a hook manager method reachable through Call.
type Method string

// Supported methods.
const (
	MethodBefore  Method = "before"
	MethodAfter   Method = "after"
	MethodEnable  Method = "enable"
	MethodDisable Method = "disable"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodBefore, MethodAfter, MethodEnable, MethodDisable:
		return true
	default:
		return false
	}
}

// Document is the page the hook manager lives in. *page.Page implements it.
type Document interface {
	inject.Document
	ElementByID(id string) *html.Node
	RootHasClass(class string) bool
	AddRootClass(class string) error
}

var (
	logBeforeFn = jsval.MustFunction(`function (request) {
  console.log('hook before:', '::  request:', JSON.stringify(request));
}`)
	logAfterFn = jsval.MustFunction(`function (request, response) {
  console.log('hook after:', '::  request:', JSON.stringify(request), '::  response:', JSON.stringify(response));
}`)
)

// Option configures an Instance.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	metrics        *monitoring.Metrics
	invoker        *inject.Invoker
	serializer     *jsval.Serializer
	payload        Payload
	artifactPrefix string
	markerPrefix   string
	globalPrefix   string
	leaveInPage    bool
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records loads and bridge calls.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithInvoker uses inv instead of building an invoker for the document.
func WithInvoker(inv *inject.Invoker) Option {
	return func(o *options) { o.invoker = inv }
}

// WithSerializer sets the serializer for bridge call arguments.
func WithSerializer(s *jsval.Serializer) Option {
	return func(o *options) { o.serializer = s }
}

// WithPayload replaces the embedded hook manager.
func WithPayload(p Payload) Option {
	return func(o *options) { o.payload = p }
}

// WithPrefixes overrides the marker prefixes. Empty values keep the defaults.
func WithPrefixes(artifact, marker, global string) Option {
	return func(o *options) {
		if artifact != "" {
			o.artifactPrefix = artifact
		}
		if marker != "" {
			o.markerPrefix = marker
		}
		if global != "" {
			o.globalPrefix = global
		}
	}
}

// WithLeaveInPage sets the initial retention flag.
func WithLeaveInPage(leave bool) Option {
	return func(o *options) { o.leaveInPage = leave }
}

// Instance is one logical installation of the hook manager in a page. Every
// name it puts into the page carries its instance id, so instances sharing a
// page never see each other.
type Instance struct {
	id      id.InstanceID
	doc     Document
	invoker *inject.Invoker
	payload Payload
	logger  *zap.Logger
	metrics *monitoring.Metrics

	artifactID  string
	markerClass string
	globalName  string
	relay       jsval.Function

	leaveInPage atomic.Bool
	loadMu      sync.Mutex
}

// New creates an instance with a fresh instance id. Nothing is put into the
// page until EnsureLoaded.
func New(doc Document, opts ...Option) (*Instance, error) {
	o := options{
		payload:        DefaultPayload,
		artifactPrefix: DefaultArtifactPrefix,
		markerPrefix:   DefaultMarkerPrefix,
		globalPrefix:   DefaultGlobalPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.payload == nil {
		o.payload = DefaultPayload
	}

	relay, err := relayFunction(o.globalPrefix)
	if err != nil {
		return nil, err
	}

	inv := o.invoker
	if inv == nil {
		injectOpts := []inject.Option{inject.WithLogger(o.logger), inject.WithMetrics(o.metrics)}
		if o.serializer != nil {
			injectOpts = append(injectOpts, inject.WithSerializer(o.serializer))
		}
		inv = inject.New(doc, injectOpts...)
	}

	instanceID := id.NewInstanceID()
	h := &Instance{
		id:          instanceID,
		doc:         doc,
		invoker:     inv,
		payload:     o.payload,
		logger:      o.logger.Named("hook").With(zap.String("instance", instanceID.String())),
		metrics:     o.metrics,
		artifactID:  o.artifactPrefix + "-" + instanceID.String(),
		markerClass: o.markerPrefix + "-loaded-" + instanceID.String(),
		globalName:  o.globalPrefix + instanceID.String(),
		relay:       relay,
	}
	h.leaveInPage.Store(o.leaveInPage)
	return h, nil
}

// relayFunction builds the in-page dispatcher. It finds the instance global
// from the id it is given and applies the named method to the remaining
// arguments. It captures nothing; the prefix is part of its text.
func relayFunction(globalPrefix string) (jsval.Function, error) {
	prefix, err := jsval.Serialize(globalPrefix)
	if err != nil {
		return jsval.Function{}, err
	}
	return jsval.ParseFunction(`function (instanceId, method) {
  var target = window[` + prefix + ` + instanceId];
  if (!target || typeof target[method] !== 'function') {
    throw new TypeError('hook instance ' + instanceId + ' has no method ' + method);
  }
  target[method].apply(target, Array.prototype.slice.call(arguments, 2));
}`)
}

// ID returns the instance id.
func (h *Instance) ID() id.InstanceID { return h.id }

// ArtifactID returns the id of the element that installs the hook manager.
func (h *Instance) ArtifactID() string { return h.artifactID }

// MarkerClass returns the class stamped on the root element once loaded.
func (h *Instance) MarkerClass() string { return h.markerClass }

// GlobalName returns the page global holding this instance's hook manager.
func (h *Instance) GlobalName() string { return h.globalName }

// Version returns the loader version.
func (h *Instance) Version() string { return Version }

// PayloadVersion returns the version of the embedded hook manager.
func (h *Instance) PayloadVersion() string { return PayloadVersion }

// SetLeaveInPage controls whether artifacts stay in the document after they
// ran. It is meant for debugging and defaults to false.
func (h *Instance) SetLeaveInPage(leave bool) { h.leaveInPage.Store(leave) }

// LeaveInPage returns the retention flag.
func (h *Instance) LeaveInPage() bool { return h.leaveInPage.Load() }

// Loaded reports whether either load marker is present in the page.
func (h *Instance) Loaded() bool {
	return h.doc.ElementByID(h.artifactID) != nil || h.doc.RootHasClass(h.markerClass)
}

// EnsureLoaded installs the hook manager unless this instance already did.
// It reports whether this call installed it.
func (h *Instance) EnsureLoaded() (bool, error) {
	return h.EnsureLoadedWith(h.payload)
}

// EnsureLoadedWith is EnsureLoaded with an explicit payload source.
func (h *Instance) EnsureLoadedWith(payload Payload) (bool, error) {
	if payload == nil {
		return false, fmt.Errorf("%w: nil payload", inject.ErrInvalidPayload)
	}

	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if h.Loaded() {
		h.metrics.RecordLoad(false)
		h.logger.Debug("Hook manager already loaded")
		return false, nil
	}

	if _, err := h.invoker.Invoke(inject.Code(payload(h.globalName)), h.leaveInPage.Load(), h.artifactID); err != nil {
		return false, fmt.Errorf("load hook manager: %w", err)
	}
	if err := h.doc.AddRootClass(h.markerClass); err != nil {
		return true, fmt.Errorf("mark hook manager loaded: %w", err)
	}

	h.metrics.RecordLoad(true)
	h.logger.Info("Hook manager loaded", zap.String("global", h.globalName))
	return true, nil
}

// Call forwards method and args to this instance's hook manager in the page.
// It does not wait for or report anything from the page.
func (h *Instance) Call(method Method, args ...any) (*inject.Artifact, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return h.CallUnchecked(string(method), args...)
}

// CallUnchecked forwards any method name. The page decides whether it exists.
func (h *Instance) CallUnchecked(method string, args ...any) (*inject.Artifact, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownMethod)
	}
	if !h.Loaded() {
		return nil, ErrNotLoaded
	}

	artifactID := h.artifactID + "-" + method + "-" + id.NewArtifactSuffix()
	forwarded := make([]any, 0, len(args)+2)
	forwarded = append(forwarded, h.id.String(), method)
	forwarded = append(forwarded, args...)

	h.metrics.RecordBridgeCall(method)
	h.logger.Debug("Bridge call", zap.String("method", method), zap.String("artifact", artifactID))
	return h.invoker.Invoke(inject.Func(h.relay), h.leaveInPage.Load(), artifactID, forwarded...)
}

// Before adds a request handler at the end of the before list.
func (h *Instance) Before(handler jsval.Function) (*inject.Artifact, error) {
	return h.Call(MethodBefore, handler)
}

// BeforeAt inserts a request handler at index.
func (h *Instance) BeforeAt(handler jsval.Function, index int) (*inject.Artifact, error) {
	return h.Call(MethodBefore, handler, index)
}

// After adds a response handler at the end of the after list.
func (h *Instance) After(handler jsval.Function) (*inject.Artifact, error) {
	return h.Call(MethodAfter, handler)
}

// AfterAt inserts a response handler at index.
func (h *Instance) AfterAt(handler jsval.Function, index int) (*inject.Artifact, error) {
	return h.Call(MethodAfter, handler, index)
}

// Enable turns this instance's hooks back on.
func (h *Instance) Enable() (*inject.Artifact, error) {
	return h.Call(MethodEnable)
}

// Disable makes this instance pass requests straight through. Other
// instances are unaffected.
func (h *Instance) Disable() (*inject.Artifact, error) {
	return h.Call(MethodDisable)
}

// LogBefore adds a before handler that logs each request to the page console.
// Calling it again logs the request at a later point in the chain.
func (h *Instance) LogBefore() (*inject.Artifact, error) {
	return h.Before(logBeforeFn)
}

// LogAfter adds an after handler that logs each request and response.
func (h *Instance) LogAfter() (*inject.Artifact, error) {
	return h.After(logAfterFn)
}
