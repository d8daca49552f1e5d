/*
Package page provides the target context: an HTML document with a goja
JavaScript runtime attached to it.

# Overview

A Page behaves like a minimal browser window. The document is an
x/net/html node tree and the runtime exposes window, self, document,
console, location, the timer functions and fetch. Page code can only
reach the outside world through fetch, which is backed by a Fetcher.

# Script Execution

Connecting a script element to the document runs its text synchronously,
whether the insertion comes from Go (Insert) or from page code
(appendChild, insertBefore). A script element runs at most once. Scripts
created through innerHTML never run.

Exceptions thrown by page scripts stay in the page: they are recorded as
error console entries and logged, never returned to the inserting code.
Evaluate is the exception and returns errors, for tests and diagnostics.

# Time

Timers and fetch completions are queued tasks on a virtual clock. Nothing
runs in the background; Drain runs due tasks in order and advances the
clock as it goes.

# Limits

  - Script timeout: each top-level run is interrupted after the timeout
  - Task budget: one Drain call runs at most that many tasks
  - Document size: Load rejects larger input
*/
package page
