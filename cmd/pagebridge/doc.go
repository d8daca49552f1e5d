// Package main is the pagebridge command line harness.
//
// It opens a page (blank, an HTML file or an http(s) URL), registers
// executeInPage and hook in the shared namespace, and then runs the requested
// actions in this order:
//
//  1. inject every -preload file verbatim, in sorted path order
//  2. load the hook manager (-hook, -log-before, -log-after)
//  3. invoke the -script function with the -args values
//  4. run queued timers and fetches (-drain)
//
// A JSON report with the console output, the artifacts still attached and
// the hook instance id is printed on stdout.
//
// Usage:
//
//	pagebridge -html page.html -hook -log-before -script call.js -args args.yaml -drain
//	pagebridge -html https://example.com/ -preload 'lib/**/*.js' -retain -out final.html
//
// Configuration comes from PAGEBRIDGE_* environment variables, optionally on
// top of a TOML file given with -config.
package main
