// Package monitoring provides Prometheus metrics for pagebridge.
//
// Collectors cover the three places work happens:
//   - Injection: artifacts inserted, composed source sizes, serialization and attach failures
//   - Hook manager: loads (installed vs skipped by the load marker) and relayed calls
//   - Page: executed scripts, uncaught script errors, fetch traffic
//
// Metrics are registered against an explicit prometheus.Registerer so that
// several instances (and tests) can coexist in one process:
//
//	reg := prometheus.NewRegistry()
//	metrics := monitoring.NewMetrics(reg)
//	invoker := inject.New(doc, inject.WithMetrics(metrics))
package monitoring
