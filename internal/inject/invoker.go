package inject

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagebridge/internal/jsval"
	"go.uber.org/zap"
)

// ErrInvalidPayload is returned for a nil payload or an unparsed function.
var ErrInvalidPayload = errors.New("inject: invalid payload")

// Payload is what Invoke runs in the page: a function applied to arguments, or
// code text used as is.
type Payload interface {
	compose(s *jsval.Serializer, args []any) (string, error)
}

type funcPayload struct {
	fn jsval.Function
}

// Func makes a payload that applies fn to the invocation arguments. fn is
// source text only, so it cannot capture anything from the caller.
func Func(fn jsval.Function) Payload { return funcPayload{fn: fn} }

func (p funcPayload) compose(s *jsval.Serializer, args []any) (string, error) {
	if p.fn.IsZero() {
		return "", fmt.Errorf("%w: empty function", ErrInvalidPayload)
	}
	if args == nil {
		args = []any{}
	}
	list, err := s.Serialize(args)
	if err != nil {
		return "", err
	}
	return "(" + p.fn.Expr() + ").apply(null, " + list + ");", nil
}

type codePayload string

// Code makes a payload that injects src verbatim. Invocation arguments are
// ignored.
func Code(src string) Payload { return codePayload(src) }

func (p codePayload) compose(*jsval.Serializer, []any) (string, error) {
	return string(p), nil
}

// Invoker runs payloads in a document through an Injector.
type Invoker struct {
	injector   *Injector
	serializer *jsval.Serializer
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// New creates an invoker with its own injector for doc.
func New(doc Document, opts ...Option) *Invoker {
	return NewInvoker(NewInjector(doc, opts...), opts...)
}

// NewInvoker creates an invoker on top of injector.
func NewInvoker(injector *Injector, opts ...Option) *Invoker {
	o := resolve(opts)
	return &Invoker{
		injector:   injector,
		serializer: o.serializer,
		logger:     o.logger.Named("invoke"),
		metrics:    o.metrics,
	}
}

// Injector returns the underlying injector.
func (v *Invoker) Injector() *Injector { return v.injector }

// Invoke composes payload with args and injects the result under id. A
// function payload becomes "(fn).apply(null, [args...]);". Arguments that
// cannot be serialized abort the call before anything touches the document.
// Nothing flows back from the page: page exceptions are not reported here.
func (v *Invoker) Invoke(payload Payload, leaveInPage bool, id string, args ...any) (*Artifact, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidPayload)
	}

	source, err := payload.compose(v.serializer, args)
	if err != nil {
		var serr *jsval.SerializationError
		if errors.As(err, &serr) {
			v.metrics.RecordSerializeError()
			v.logger.Warn("Argument serialization failed",
				zap.String("id", id),
				zap.String("path", serr.Path),
				zap.String("type", serr.Type))
		}
		return nil, fmt.Errorf("invoke %q: %w", id, err)
	}
	return v.injector.Inject(source, leaveInPage, id)
}
