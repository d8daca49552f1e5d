package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pagebridge/internal/hook"
	"github.com/GriffinCanCode/pagebridge/internal/registry"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) report {
	t.Helper()
	f, err := parseFlags(args, &bytes.Buffer{})
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), f, &stdout, &stderr))

	var rep report
	require.NoError(t, sonic.Unmarshal(stdout.Bytes(), &rep))
	return rep
}

func messages(rep report) []string {
	out := make([]string, len(rep.Console))
	for i, e := range rep.Console {
		out[i] = e.Message
	}
	return out
}

func TestRunScriptWithArgs(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "greet.js", `function (name, opts) {
  console.log('hi ' + name + ' ' + opts.n + ' ' + Object.keys(opts).join(','));
  document.body.setAttribute('data-x', name);
}`)
	args := writeFile(t, dir, "args.yaml", "- pagebridge\n- z: 1\n  a: 2\n  n: 3\n")
	out := filepath.Join(dir, "out.html")
	metrics := filepath.Join(dir, "metrics.txt")

	rep := execute(t, "-script", script, "-args", args, "-retain", "-out", out, "-metrics", metrics)

	assert.Equal(t, []string{"hi pagebridge 3 z,a,n"}, messages(rep))
	assert.Equal(t, []string{"pagebridge-script-greet"}, rep.Artifacts)
	assert.Empty(t, rep.Instance)
	assert.Contains(t, rep.Features, "executeInPage")
	assert.Contains(t, rep.Features, "hook")

	markup, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(markup), `data-x="pagebridge"`)
	assert.Contains(t, string(markup), `id="pagebridge-script-greet"`)

	text, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(text), `pagebridge_injections_total{retained="true"} 1`)
}

func TestRunHookAgainstServedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api":
			_, _ = w.Write([]byte("ok"))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>t</title></head>` +
				`<body><script>console.log('page')</script></body></html>`))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, dir, "pre/b.js", "console.log('b');")
	writeFile(t, dir, "pre/nested/a.js", "console.log('a');")
	script := writeFile(t, dir, "call.js", `function () {
  fetch('/api')
    .then(function (r) { return r.text(); })
    .then(function (t) { console.log('body ' + t); });
}`)

	rep := execute(t,
		"-html", srv.URL+"/index.html",
		"-preload", filepath.Join(dir, "pre", "**", "*.js"),
		"-hook", "-log-before", "-leave-in-page",
		"-script", script,
		"-drain",
	)

	msgs := messages(rep)
	require.Len(t, msgs, 5)
	assert.Equal(t, []string{"page", "b", "a"}, msgs[:3])
	assert.True(t, strings.HasPrefix(msgs[3], "hook before:"), msgs[3])
	assert.Equal(t, "body ok", msgs[4])

	assert.Equal(t, srv.URL+"/index.html", rep.URL)
	assert.True(t, rep.Installed)
	assert.NotEmpty(t, rep.Instance)
	assert.Equal(t, []string{"pagebridge-hook-js-" + rep.Instance}, rep.Artifacts)
	assert.Equal(t, 1, rep.TasksRun)
	assert.Zero(t, rep.Pending)
}

func TestRunFailures(t *testing.T) {
	dir := t.TempDir()
	notAFunction := writeFile(t, dir, "bad.js", "console.log('x')")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing page", []string{"-html", filepath.Join(dir, "missing.html")}, "load page"},
		{"not html", []string{"-html", writeFile(t, dir, "data.bin", "\x00\x01\x02\x03")}, "load page"},
		{"empty preload", []string{"-preload", filepath.Join(dir, "none", "*.js")}, "no files match"},
		{"not a function", []string{"-script", notAFunction}, "bad.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFlags(tt.args, &bytes.Buffer{})
			require.NoError(t, err)
			err = run(context.Background(), f, &bytes.Buffer{}, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLookupEntryPoints(t *testing.T) {
	ns := registry.New("test")

	_, err := lookup[hookFunc](ns, "hook")
	assert.ErrorContains(t, err, "test.hook is not registered")

	require.NoError(t, ns.Merge(registry.Feature{Name: "hook", Value: "not a factory"}))
	_, err = lookup[hookFunc](ns, "hook")
	assert.ErrorContains(t, err, "unexpected value string")

	var calls []bool
	require.NoError(t, ns.Merge(registry.Feature{Name: "hook", Value: hookFunc(func(leaveInPage bool) (*hook.Instance, error) {
		calls = append(calls, leaveInPage)
		return nil, nil
	})}))
	newHook, err := lookup[hookFunc](ns, "hook")
	require.NoError(t, err)
	_, err = newHook(true)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, calls)
}

func TestParseFlags(t *testing.T) {
	_, err := parseFlags([]string{"-args", "a.yaml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "-args needs -script")

	_, err = parseFlags([]string{"extra"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unexpected arguments")

	f, err := parseFlags([]string{"-hook", "-drain"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, f.hook)
	assert.True(t, f.drain)
	assert.False(t, f.retain)
}
