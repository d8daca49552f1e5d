package inject

import (
	"testing"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagebridge/internal/jsval"
	"github.com/GriffinCanCode/pagebridge/internal/page"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPage(t *testing.T) *page.Page {
	t.Helper()
	p, err := page.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func eval(t *testing.T, p *page.Page, src string) any {
	t.Helper()
	v, err := p.Evaluate(src)
	require.NoError(t, err)
	return v
}

func TestInjectRetention(t *testing.T) {
	p := newPage(t)
	inj := NewInjector(p)
	src := "window.runs = (window.runs || 0) + 1;"

	kept, err := inj.Inject(src, true, "kept")
	require.NoError(t, err)
	assert.True(t, kept.Retained())
	assert.True(t, kept.Attached())
	assert.NotNil(t, p.ElementByID("kept"))
	assert.Equal(t, "kept", kept.ID())
	assert.Equal(t, src, kept.Source())

	dropped, err := inj.Inject(src, false, "dropped")
	require.NoError(t, err)
	assert.False(t, dropped.Attached())
	assert.Nil(t, p.ElementByID("dropped"))

	// Both ran, whatever happened to the element afterwards.
	assert.Equal(t, int64(2), eval(t, p, "runs"))

	kept.Remove()
	assert.False(t, kept.Attached())
	assert.Nil(t, p.ElementByID("kept"))
	assert.Equal(t, int64(2), eval(t, p, "runs"))
}

func TestInjectWithoutID(t *testing.T) {
	p := newPage(t)

	a, err := NewInjector(p).Inject("window.anon = true;", true, "")
	require.NoError(t, err)
	assert.Empty(t, a.Node().Attr)
	assert.Equal(t, true, eval(t, p, "anon"))
}

func TestInjectNoAttachPoint(t *testing.T) {
	p, err := page.NewEmpty()
	require.NoError(t, err)
	defer p.Close()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	a, err := NewInjector(p, WithMetrics(metrics)).Inject("1", false, "x")
	assert.ErrorIs(t, err, ErrNoAttachPoint)
	assert.Nil(t, a)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InjectionFailures))
}

func TestInvokeArgumentAlignment(t *testing.T) {
	p := newPage(t)
	collect := jsval.MustFunction("function () { window.received = Array.prototype.slice.call(arguments); }")

	_, err := New(p).Invoke(Func(collect), false, "args",
		1, "two", nil, jsval.Undefined, jsval.NewObject(jsval.Pair{Key: "k", Value: []any{true}}), []any{})
	require.NoError(t, err)

	assert.Equal(t, true, eval(t, p, `
		received.length === 6 &&
		received[0] === 1 &&
		received[1] === "two" &&
		received[2] === null &&
		received[3] === undefined &&
		received[4].k[0] === true &&
		Array.isArray(received[5]) && received[5].length === 0
	`))
}

func TestInvokeComposition(t *testing.T) {
	p := newPage(t)
	inv := New(p)
	fn := jsval.MustFunction("function () { window.noArgs = arguments.length; }")

	a, err := inv.Invoke(Func(fn), true, "compose")
	require.NoError(t, err)
	assert.Equal(t, "(function () { window.noArgs = arguments.length; }).apply(null, []);", a.Source())
	assert.Equal(t, int64(0), eval(t, p, "noArgs"))
	assert.NotNil(t, p.ElementByID("compose"))

	code, err := inv.Invoke(Code("window.code = 1;"), false, "code", "ignored", 2)
	require.NoError(t, err)
	assert.Equal(t, "window.code = 1;", code.Source())
	assert.Equal(t, int64(1), eval(t, p, "code"))

	arrow, err := inv.Invoke(Func(jsval.MustFunction("(a) => { window.arrow = a; } // set it")), false, "", 5)
	require.NoError(t, err)
	assert.Contains(t, arrow.Source(), "// set it\n).apply(null,")
	assert.Equal(t, int64(5), eval(t, p, "arrow"))
}

func TestInvokeInvalidPayload(t *testing.T) {
	p := newPage(t)
	inv := New(p)

	_, err := inv.Invoke(nil, false, "nil")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = inv.Invoke(Func(jsval.Function{}), false, "zero")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	assert.Nil(t, p.ElementByID("nil"))
	assert.Nil(t, p.ElementByID("zero"))
}

func TestInvokeSerializationFailureTouchesNothing(t *testing.T) {
	p := newPage(t)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	inv := New(p, WithMetrics(metrics))
	fn := jsval.MustFunction("function () { window.touched = true; }")

	_, err := inv.Invoke(Func(fn), true, "bad", 1, make(chan int))
	assert.ErrorIs(t, err, jsval.ErrUnsupported)
	assert.Nil(t, p.ElementByID("bad"))
	assert.Equal(t, "undefined", eval(t, p, "typeof touched"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SerializeErrors))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Injections.WithLabelValues("true")))
}

func TestInvokeLenientSerializer(t *testing.T) {
	p := newPage(t)
	inv := New(p, WithSerializer(jsval.New(jsval.WithLenient(nil))))
	fn := jsval.MustFunction("function (a, b, c) { window.slots = [a, typeof b, c]; }")

	_, err := inv.Invoke(Func(fn), false, "", 1, make(chan int), 3)
	require.NoError(t, err)
	assert.Equal(t, "1,undefined,3", eval(t, p, "slots.join(',')"))
}

func TestInvokePageExceptionIsNotReported(t *testing.T) {
	p := newPage(t)
	fn := jsval.MustFunction("function () { throw new Error('inside page'); }")

	a, err := New(p).Invoke(Func(fn), false, "throws")
	require.NoError(t, err)
	assert.NotNil(t, a)

	console := p.Console()
	require.Len(t, console, 1)
	assert.Contains(t, console[0].Message, "inside page")
}

func TestInvokeOrdering(t *testing.T) {
	p := newPage(t)
	inv := New(p)
	push := jsval.MustFunction("function (n) { (window.seq = window.seq || []).push(n); }")

	for i := 1; i <= 3; i++ {
		_, err := inv.Invoke(Func(push), false, "", i)
		require.NoError(t, err)
	}
	assert.Equal(t, "1,2,3", eval(t, p, "seq.join(',')"))
}
