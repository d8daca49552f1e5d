package hook

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagebridge/internal/inject"
	"github.com/GriffinCanCode/pagebridge/internal/jsval"
	"github.com/GriffinCanCode/pagebridge/internal/page"
	"github.com/GriffinCanCode/pagebridge/internal/shared/id"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	requests []page.FetchRequest
}

func (r *recorder) Fetch(_ context.Context, req page.FetchRequest) (*page.FetchResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return &page.FetchResponse{
		Status:  200,
		Headers: map[string]string{"content-type": "text/plain"},
		Body:    []byte("from network"),
	}, nil
}

func newPage(t *testing.T, opts ...page.Option) *page.Page {
	t.Helper()
	p, err := page.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newLoaded(t *testing.T, p *page.Page, opts ...Option) *Instance {
	t.Helper()
	h, err := New(p, opts...)
	require.NoError(t, err)
	installed, err := h.EnsureLoaded()
	require.NoError(t, err)
	require.True(t, installed)
	return h
}

func eval(t *testing.T, p *page.Page, src string) any {
	t.Helper()
	v, err := p.Evaluate(src)
	require.NoError(t, err)
	return v
}

// fetchText runs fetch in the page and returns the response text.
func fetchText(t *testing.T, p *page.Page, url string) any {
	t.Helper()
	eval(t, p, `delete window.got; fetch('`+url+`').then(function (r) { window.gotStatus = r.status; return r.text(); }).then(function (t) { window.got = t; });`)
	_, err := p.Drain(context.Background())
	require.NoError(t, err)
	return eval(t, p, "window.got")
}

func TestEnsureLoadedIsIdempotent(t *testing.T) {
	p := newPage(t)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	h, err := New(p, WithMetrics(metrics), WithLeaveInPage(true))
	require.NoError(t, err)
	assert.False(t, h.Loaded())

	installed, err := h.EnsureLoaded()
	require.NoError(t, err)
	assert.True(t, installed)

	installed, err = h.EnsureLoaded()
	require.NoError(t, err)
	assert.False(t, installed)

	assert.Equal(t, int64(1), eval(t, p, `document.querySelectorAll('[id="`+h.ArtifactID()+`"]').length`))
	assert.Equal(t, int64(1), eval(t, p, `document.documentElement.className.split(' ').filter(function (c) { return c === '`+h.MarkerClass()+`'; }).length`))
	assert.Equal(t, "function", eval(t, p, `typeof window['`+h.GlobalName()+`'].before`))
	assert.Equal(t, PayloadVersion, eval(t, p, `window['`+h.GlobalName()+`'].version`))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Loads.WithLabelValues("installed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Loads.WithLabelValues("skipped")))
}

func TestEnsureLoadedDefaultRemovesArtifact(t *testing.T) {
	p := newPage(t)
	h := newLoaded(t, p)

	assert.Nil(t, p.ElementByID(h.ArtifactID()))
	assert.True(t, p.RootHasClass(h.MarkerClass()))
	assert.True(t, h.Loaded())

	installed, err := h.EnsureLoaded()
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestEnsureLoadedConcurrently(t *testing.T) {
	p := newPage(t)
	h, err := New(p)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		installed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := h.EnsureLoaded()
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				installed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, installed)
}

func TestEnsureLoadedWithoutAttachPoint(t *testing.T) {
	p, err := page.NewEmpty()
	require.NoError(t, err)
	defer p.Close()

	h, err := New(p)
	require.NoError(t, err)
	_, err = h.EnsureLoaded()
	assert.ErrorIs(t, err, inject.ErrNoAttachPoint)

	_, err = h.EnsureLoadedWith(nil)
	assert.ErrorIs(t, err, inject.ErrInvalidPayload)
}

func TestInstancesAreIsolated(t *testing.T) {
	p := newPage(t)
	a := newLoaded(t, p)
	b := newLoaded(t, p)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.GlobalName(), b.GlobalName())
	assert.NotEqual(t, a.MarkerClass(), b.MarkerClass())

	_, err := a.Before(jsval.MustFunction("function (request) {}"))
	require.NoError(t, err)
	_, err = a.Disable()
	require.NoError(t, err)

	assert.Equal(t, "1:false", eval(t, p, `var s = window['`+a.GlobalName()+`'].handlers(); s.before + ':' + s.enabled`))
	assert.Equal(t, "0:true", eval(t, p, `var s = window['`+b.GlobalName()+`'].handlers(); s.before + ':' + s.enabled`))
}

func TestBridgeMethods(t *testing.T) {
	net := &recorder{}
	p := newPage(t, page.WithFetcher(net), page.WithURL("https://example.test/"))
	h := newLoaded(t, p)

	_, err := h.Before(jsval.MustFunction(`function (request) {
		request.headers['x-hooked'] = 'yes';
		request.url = request.url + '?rewritten=1';
	}`))
	require.NoError(t, err)
	_, err = h.After(jsval.MustFunction(`function (request, response) {
		response.text = response.text.toUpperCase();
		response.status = 203;
	}`))
	require.NoError(t, err)

	assert.Equal(t, "FROM NETWORK", fetchText(t, p, "/data"))
	assert.Equal(t, int64(203), eval(t, p, "gotStatus"))
	require.Len(t, net.requests, 1)
	assert.Equal(t, "https://example.test/data?rewritten=1", net.requests[0].URL)
	assert.Equal(t, "yes", net.requests[0].Headers["x-hooked"])

	// Disabled instances pass requests through untouched.
	_, err = h.Disable()
	require.NoError(t, err)
	assert.Equal(t, "from network", fetchText(t, p, "/data"))
	assert.Equal(t, "https://example.test/data", net.requests[1].URL)

	_, err = h.Enable()
	require.NoError(t, err)
	assert.Equal(t, "FROM NETWORK", fetchText(t, p, "/data"))
}

func TestBeforeCanShortCircuit(t *testing.T) {
	net := &recorder{}
	p := newPage(t, page.WithFetcher(net))
	h := newLoaded(t, p)

	_, err := h.Before(jsval.MustFunction(`function (request) {
		return {status: 299, text: 'stubbed ' + request.method};
	}`))
	require.NoError(t, err)

	assert.Equal(t, "stubbed GET", fetchText(t, p, "https://example.test/x"))
	assert.Equal(t, int64(299), eval(t, p, "gotStatus"))
	assert.Empty(t, net.requests)
}

func TestHandlerOrdering(t *testing.T) {
	p := newPage(t, page.WithFetcher(&recorder{}))
	h := newLoaded(t, p)

	mark := func(tag string) jsval.Function {
		return jsval.MustFunction(`function (request) { (window.order = window.order || []).push('` + tag + `'); }`)
	}
	_, err := h.Before(mark("b"))
	require.NoError(t, err)
	_, err = h.BeforeAt(mark("a"), 0)
	require.NoError(t, err)
	_, err = h.Before(mark("c"))
	require.NoError(t, err)
	_, err = h.AfterAt(jsval.MustFunction(`function () { window.order.push('after'); }`), 0)
	require.NoError(t, err)

	fetchText(t, p, "https://example.test/")
	assert.Equal(t, "a,b,c,after", eval(t, p, "order.join(',')"))
}

func TestLogHandlers(t *testing.T) {
	p := newPage(t, page.WithFetcher(&recorder{}))
	h := newLoaded(t, p)

	_, err := h.LogBefore()
	require.NoError(t, err)
	_, err = h.LogAfter()
	require.NoError(t, err)
	fetchText(t, p, "https://example.test/logged")

	var logged []string
	for _, e := range p.Console() {
		logged = append(logged, e.Message)
	}
	require.Len(t, logged, 2)
	assert.True(t, strings.HasPrefix(logged[0], "hook before:"))
	assert.Contains(t, logged[0], "https://example.test/logged")
	assert.True(t, strings.HasPrefix(logged[1], "hook after:"))
	assert.Contains(t, logged[1], "from network")
}

func TestCallValidation(t *testing.T) {
	p := newPage(t)
	h, err := New(p)
	require.NoError(t, err)

	_, err = h.Enable()
	assert.ErrorIs(t, err, ErrNotLoaded)

	_, err = h.EnsureLoaded()
	require.NoError(t, err)

	_, err = h.Call(Method("install"))
	assert.ErrorIs(t, err, ErrUnknownMethod)
	_, err = h.CallUnchecked("")
	assert.ErrorIs(t, err, ErrUnknownMethod)

	// Unchecked names reach the page; a missing method fails there only.
	_, err = h.CallUnchecked("missing")
	require.NoError(t, err)
	console := p.Console()
	require.NotEmpty(t, console)
	assert.Contains(t, console[len(console)-1].Message, "has no method missing")

	_, err = h.CallUnchecked("before", jsval.MustFunction("function () {}"))
	require.NoError(t, err)
	assert.Equal(t, "1:true", eval(t, p, `var s = window['`+h.GlobalName()+`'].handlers(); s.before + ':' + s.enabled`))
}

func TestCallArtifacts(t *testing.T) {
	p := newPage(t)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	h := newLoaded(t, p, WithMetrics(metrics))
	h.SetLeaveInPage(true)
	assert.True(t, h.LeaveInPage())

	first, err := h.Enable()
	require.NoError(t, err)
	second, err := h.Enable()
	require.NoError(t, err)

	prefix := h.ArtifactID() + "-enable-"
	for _, a := range []*inject.Artifact{first, second} {
		require.True(t, strings.HasPrefix(a.ID(), prefix), a.ID())
		assert.True(t, id.IsValid(strings.TrimPrefix(a.ID(), prefix)))
		assert.True(t, a.Attached())
	}
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Less(t, first.ID(), second.ID())

	// The instance id travels as an argument, not inside the relay function.
	relaySource := first.Source()[:strings.Index(first.Source(), ".apply(null,")]
	assert.NotContains(t, relaySource, h.ID().String())
	assert.Contains(t, first.Source(), `"`+h.ID().String()+`"`)

	h.SetLeaveInPage(false)
	third, err := h.Disable()
	require.NoError(t, err)
	assert.False(t, third.Attached())

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.BridgeCalls.WithLabelValues("enable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BridgeCalls.WithLabelValues("disable")))
}

func TestCustomPrefixesAndPayload(t *testing.T) {
	p := newPage(t)
	h, err := New(p,
		WithPrefixes("my-js", "my", "myHook"),
		WithPayload(func(global string) string {
			return "window['" + global + "'] = {enable: function () { window.enabledVia = '" + global + "'; }};"
		}))
	require.NoError(t, err)

	assert.Equal(t, "my-js-"+h.ID().String(), h.ArtifactID())
	assert.Equal(t, "my-loaded-"+h.ID().String(), h.MarkerClass())
	assert.Equal(t, "myHook"+h.ID().String(), h.GlobalName())
	assert.Equal(t, Version, h.Version())
	assert.Equal(t, PayloadVersion, h.PayloadVersion())

	_, err = h.EnsureLoaded()
	require.NoError(t, err)
	_, err = h.Enable()
	require.NoError(t, err)
	assert.Equal(t, h.GlobalName(), eval(t, p, "enabledVia"))
}

func TestMethodValid(t *testing.T) {
	for _, m := range []Method{MethodBefore, MethodAfter, MethodEnable, MethodDisable} {
		assert.True(t, m.Valid(), m)
	}
	assert.False(t, Method("runMethod").Valid())
}
