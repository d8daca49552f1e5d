package page

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

//go:embed bootstrap.js
var bootstrapSource string

var errScriptTimeout = errors.New("script timeout exceeded")

// setupGlobals configures the window object the way page code expects it.
func (p *Page) setupGlobals() error {
	global := p.vm.GlobalObject()

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	if err := global.Set("window", global); err != nil {
		return err
	}
	if err := global.Set("self", global); err != nil {
		return err
	}

	location := p.vm.NewObject()
	if err := location.Set("href", p.url.String()); err != nil {
		return err
	}
	if err := global.Set("location", location); err != nil {
		return err
	}

	console := p.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, p.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := global.Set("console", console); err != nil {
		return err
	}

	if err := p.setupTimers(global); err != nil {
		return err
	}

	p.document = p.newDocument()
	if err := global.Set("document", p.document); err != nil {
		return err
	}

	boot, err := p.vm.RunScript("bootstrap.js", bootstrapSource)
	if err != nil {
		return fmt.Errorf("failed to compile bootstrap: %w", err)
	}
	install, ok := goja.AssertFunction(boot)
	if !ok {
		return errors.New("bootstrap is not a function")
	}
	if _, err := install(goja.Undefined(), global, p.vm.ToValue(p.nativeFetch)); err != nil {
		return fmt.Errorf("failed to run bootstrap: %w", err)
	}
	return nil
}

// makeConsoleFunc records console output and mirrors it to the logger.
func (p *Page) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		p.console = append(p.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		p.logger.Debug("Console", zap.String("level", level), zap.String("message", msg))
		return goja.Undefined()
	}
}

// guard bounds fn with the script timeout. Nested calls share the outermost
// deadline.
func (p *Page) guard(fn func() error) error {
	p.depth++
	var (
		timer *time.Timer
		fired chan struct{}
	)
	if p.depth == 1 && p.timeout > 0 {
		fired = make(chan struct{})
		timer = time.AfterFunc(p.timeout, func() {
			p.vm.Interrupt(errScriptTimeout)
			close(fired)
		})
	}
	defer func() {
		// The timer must be settled before the interrupt is cleared, or a
		// late tick would kill the next script.
		if timer != nil && !timer.Stop() {
			<-fired
		}
		p.depth--
		if p.depth == 0 {
			p.vm.ClearInterrupt()
		}
	}()
	return fn()
}

// confine records a page error. Page errors never reach the code that caused
// the script to run.
func (p *Page) confine(source string, err error) {
	msg := err.Error()
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg = ex.Value().String()
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		msg = fmt.Sprintf("%v", interrupted.Value())
	}

	p.console = append(p.console, LogEntry{
		Level:   "error",
		Message: "Uncaught " + msg,
		Time:    time.Now(),
	})
	p.logger.Warn("Page script failed", zap.String("source", source), zap.Error(err))
	p.metrics.RecordPageScript(true)
}

// inserted runs the scripts of a freshly connected subtree in tree order.
func (p *Page) inserted(n *html.Node) {
	if !p.connected(n) {
		return
	}
	if n.Type == html.ElementNode && n.DataAtom == atom.Script {
		p.prepare(n)
		return
	}
	scripts, err := htmlquery.QueryAll(n, "descendant::script")
	if err != nil {
		p.logger.Error("Failed to list inserted scripts", zap.Error(err))
		return
	}
	for _, s := range scripts {
		p.prepare(s)
	}
}

// prepare runs a connected script element once. Empty scripts stay unstarted
// so that text added later still runs.
func (p *Page) prepare(s *html.Node) {
	if _, done := p.started[s]; done || !p.connected(s) || !runnable(s) {
		return
	}
	if htmlquery.SelectAttr(s, "src") != "" {
		p.started[s] = struct{}{}
		p.logger.Debug("Skipping external script", zap.String("src", htmlquery.SelectAttr(s, "src")))
		return
	}
	src := htmlquery.InnerText(s)
	if src == "" {
		return
	}
	p.started[s] = struct{}{}

	name := htmlquery.SelectAttr(s, "id")
	if name == "" {
		name = "inline-script"
	}

	previous := p.current
	p.current = s
	err := p.guard(func() error {
		_, err := p.vm.RunScript(name, src)
		return err
	})
	p.current = previous

	if err != nil {
		p.confine(name, err)
		return
	}
	p.metrics.RecordPageScript(false)
}

// markStarted keeps scripts created by markup assignment from ever running.
func (p *Page) markStarted(n *html.Node) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Script {
		p.started[n] = struct{}{}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.markStarted(c)
	}
}

func runnable(s *html.Node) bool {
	typ := strings.ToLower(strings.TrimSpace(htmlquery.SelectAttr(s, "type")))
	switch typ {
	case "", "text/javascript", "application/javascript", "text/ecmascript", "application/ecmascript":
		return true
	default:
		return false
	}
}
