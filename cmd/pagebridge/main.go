package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// flags holds the parsed command line.
type flags struct {
	config      string
	html        string
	preload     string
	script      string
	args        string
	retain      bool
	hook        bool
	logBefore   bool
	logAfter    bool
	leaveInPage bool
	drain       bool
	metrics     string
	out         string
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	fs := flag.NewFlagSet("pagebridge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &flags{}
	fs.StringVar(&f.config, "config", "", "TOML configuration file (environment variables override it)")
	fs.StringVar(&f.html, "html", "", "HTML file or http(s) URL to load (blank page when empty)")
	fs.StringVar(&f.preload, "preload", "", "glob of code files injected verbatim, in sorted order")
	fs.StringVar(&f.script, "script", "", "file holding a function expression to invoke in the page")
	fs.StringVar(&f.args, "args", "", "YAML sequence of arguments for -script")
	fs.BoolVar(&f.retain, "retain", false, "leave injected artifacts in the page")
	fs.BoolVar(&f.hook, "hook", false, "load the hook manager")
	fs.BoolVar(&f.logBefore, "log-before", false, "load the hook manager and log every request")
	fs.BoolVar(&f.logAfter, "log-after", false, "load the hook manager and log every response")
	fs.BoolVar(&f.leaveInPage, "leave-in-page", false, "keep the hook manager artifact in the page")
	fs.BoolVar(&f.drain, "drain", false, "run queued timers and fetches before reporting")
	fs.StringVar(&f.metrics, "metrics", "", "write Prometheus metrics to this file ('-' for stderr)")
	fs.StringVar(&f.out, "out", "", "write the final HTML to this file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.args != "" && f.script == "" {
		return nil, fmt.Errorf("-args needs -script")
	}
	return f, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := parseFlags(os.Args[1:], os.Stderr)
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(ctx, f, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "pagebridge:", err)
		os.Exit(1)
	}
}
