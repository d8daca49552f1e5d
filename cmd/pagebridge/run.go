package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagebridge/internal/hook"
	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pagebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagebridge/internal/inject"
	"github.com/GriffinCanCode/pagebridge/internal/jsval"
	"github.com/GriffinCanCode/pagebridge/internal/logging"
	"github.com/GriffinCanCode/pagebridge/internal/page"
	"github.com/GriffinCanCode/pagebridge/internal/registry"
	"github.com/GriffinCanCode/pagebridge/internal/transport"
)

// report is printed as JSON once all actions ran.
type report struct {
	URL       string          `json:"url"`
	Instance  string          `json:"instance,omitempty"`
	Installed bool            `json:"installed"`
	Artifacts []string        `json:"artifacts"`
	Console   []page.LogEntry `json:"console"`
	TasksRun  int             `json:"tasks_run"`
	Pending   int             `json:"pending"`
	Namespace registry.Stats  `json:"namespace"`
	Features  []string        `json:"features"`
}

// session wires one page to everything that acts on it.
type session struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *monitoring.Metrics
	page      *page.Page
	invoker   *inject.Invoker
	artifacts []*inject.Artifact
	hooks     []*hook.Instance
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func run(ctx context.Context, f *flags, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(f.config)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	s, err := newSession(ctx, cfg, logger, f.html)
	if err != nil {
		return err
	}
	defer s.page.Close()

	if err := s.register(); err != nil {
		return err
	}

	rep := report{URL: s.page.URL()}

	if f.preload != "" {
		if err := s.preload(f.preload, f.retain); err != nil {
			return err
		}
	}

	if f.hook || f.logBefore || f.logAfter {
		inst, installed, err := s.loadHook(f)
		if err != nil {
			return err
		}
		rep.Instance = inst.ID().String()
		rep.Installed = installed
	}

	if f.script != "" {
		if err := s.invokeScript(f.script, f.args, f.retain); err != nil {
			return err
		}
	}

	if f.drain {
		ran, err := s.page.Drain(ctx)
		rep.TasksRun = ran
		if err != nil {
			return fmt.Errorf("drain page: %w", err)
		}
	}

	if f.out != "" {
		markup, err := s.page.HTML()
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.out, []byte(markup), 0o644); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
	}

	rep.Console = s.page.Console()
	rep.Pending = s.page.Pending()
	rep.Artifacts = s.retained()
	ns := registry.Default()
	rep.Namespace = ns.Stats()
	rep.Features = ns.Names()

	data, err := sonic.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := fmt.Fprintln(stdout, string(data)); err != nil {
		return err
	}

	if f.metrics != "" {
		return s.writeMetrics(f.metrics, stderr)
	}
	return nil
}

func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, source string) (*session, error) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	serializer := jsval.New()
	if cfg.Serializer.Lenient {
		serializer = jsval.New(jsval.WithLenient(logger.Named("jsval")))
	}

	client := transport.New(append(transport.FromConfig(cfg.Fetch),
		transport.WithLogger(logger),
		transport.WithMetrics(metrics),
	)...)

	opts := []page.Option{
		page.WithLogger(logger),
		page.WithMetrics(metrics),
		page.WithFetcher(client),
		page.WithURL(cfg.Page.URL),
		page.WithScriptTimeout(cfg.Page.ScriptTimeout.Duration),
		page.WithTaskBudget(cfg.Page.TaskBudget),
		page.WithMaxHTMLBytes(cfg.Page.MaxHTMLBytes),
	}

	p, err := openPage(ctx, client, source, opts)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		page:     p,
		invoker: inject.New(p,
			inject.WithLogger(logger),
			inject.WithMetrics(metrics),
			inject.WithSerializer(serializer),
		),
	}, nil
}

func openPage(ctx context.Context, client *transport.Client, source string, opts []page.Option) (*page.Page, error) {
	if source == "" {
		return page.New(opts...)
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = client.Get(ctx, source)
		opts = append(opts, page.WithURL(source))
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}

	p, err := page.Load(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("load page %s: %w", source, err)
	}
	return p, nil
}

// Entry points stored in the shared namespace.
type (
	executeFunc func(payload inject.Payload, leaveInPage bool, id string, args ...any) (*inject.Artifact, error)
	hookFunc    func(leaveInPage bool) (*hook.Instance, error)
)

// register exposes this session's entry points in the shared namespace.
func (s *session) register() error {
	return registry.Default().Merge(
		registry.Feature{Name: "executeInPage", Version: hook.Version, Value: executeFunc(s.invoker.Invoke)},
		registry.Feature{Name: "hook", Version: hook.PayloadVersion, Value: hookFunc(s.newHook)},
	)
}

// lookup resolves a registered entry point by name.
func lookup[T any](ns *registry.Namespace, name string) (T, error) {
	var zero T
	f, ok := ns.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("%s.%s is not registered", ns.Name(), name)
	}
	v, ok := f.Value.(T)
	if !ok {
		return zero, fmt.Errorf("%s.%s: unexpected value %T", ns.Name(), name, f.Value)
	}
	return v, nil
}

func (s *session) newHook(leaveInPage bool) (*hook.Instance, error) {
	return hook.New(s.page,
		hook.WithLogger(s.logger),
		hook.WithMetrics(s.metrics),
		hook.WithInvoker(s.invoker),
		hook.WithPrefixes(s.cfg.Hook.ArtifactPrefix, s.cfg.Hook.MarkerPrefix, s.cfg.Hook.GlobalPrefix),
		hook.WithLeaveInPage(leaveInPage || s.cfg.Hook.LeaveInPage),
	)
}

func (s *session) preload(pattern string, retain bool) error {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("preload %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("preload %q: no files match", pattern)
	}
	sort.Strings(matches)

	execute, err := lookup[executeFunc](registry.Default(), "executeInPage")
	if err != nil {
		return err
	}
	for _, path := range matches {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("preload: %w", err)
		}
		id := "pagebridge-preload-" + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		a, err := execute(inject.Code(string(src)), retain, id)
		if err != nil {
			return fmt.Errorf("preload %s: %w", path, err)
		}
		s.artifacts = append(s.artifacts, a)
		s.logger.Debug("preloaded", zap.String("path", path), zap.String("artifact", a.ID()))
	}
	return nil
}

func (s *session) loadHook(f *flags) (*hook.Instance, bool, error) {
	newHook, err := lookup[hookFunc](registry.Default(), "hook")
	if err != nil {
		return nil, false, err
	}
	inst, err := newHook(f.leaveInPage)
	if err != nil {
		return nil, false, err
	}
	installed, err := inst.EnsureLoaded()
	if err != nil {
		return nil, false, fmt.Errorf("load hook manager: %w", err)
	}
	s.hooks = append(s.hooks, inst)

	if f.logBefore {
		if _, err := inst.LogBefore(); err != nil {
			return nil, false, err
		}
	}
	if f.logAfter {
		if _, err := inst.LogAfter(); err != nil {
			return nil, false, err
		}
	}
	return inst, installed, nil
}

func (s *session) invokeScript(path, argsPath string, retain bool) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	fn, err := jsval.ParseFunction(string(src))
	if err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}

	var args []any
	if argsPath != "" {
		if args, err = readArgs(argsPath); err != nil {
			return err
		}
	}

	execute, err := lookup[executeFunc](registry.Default(), "executeInPage")
	if err != nil {
		return err
	}
	id := "pagebridge-script-" + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	a, err := execute(inject.Func(fn), retain, id, args...)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", path, err)
	}
	s.artifacts = append(s.artifacts, a)
	return nil
}

// retained lists the ids of artifacts still attached to the page.
func (s *session) retained() []string {
	ids := []string{}
	for _, a := range s.artifacts {
		if a.Retained() && a.Attached() {
			ids = append(ids, a.ID())
		}
	}
	for _, h := range s.hooks {
		if s.page.ElementByID(h.ArtifactID()) != nil {
			ids = append(ids, h.ArtifactID())
		}
	}
	return ids
}

func (s *session) writeMetrics(path string, stderr io.Writer) error {
	families, err := s.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	w := stderr
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		defer file.Close()
		w = file
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
