// Package config provides 12-factor configuration for pagebridge.
//
// Values start from Default, are optionally overlaid by a TOML file
// (LoadFile), and are finally overridden by environment variables.
//
// Configuration Sections:
//   - Logging: log level and output format
//   - Hook: marker prefixes and the leave-in-page debug flag
//   - Page: script timeout, timer task budget, HTML size limit, page URL
//   - Fetch: transport timeout, retries, rate limit, user agent
//   - Serializer: strict or lenient handling of unsupported values
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	inst, err := hook.New(doc,
//		hook.WithPrefixes(cfg.Hook.ArtifactPrefix, cfg.Hook.MarkerPrefix, cfg.Hook.GlobalPrefix),
//		hook.WithLeaveInPage(cfg.Hook.LeaveInPage))
//
// Environment Variables:
//   - PAGEBRIDGE_LOG_LEVEL, PAGEBRIDGE_LOG_DEV
//   - PAGEBRIDGE_LEAVE_IN_PAGE, PAGEBRIDGE_ARTIFACT_PREFIX, PAGEBRIDGE_MARKER_PREFIX, PAGEBRIDGE_GLOBAL_PREFIX
//   - PAGEBRIDGE_SCRIPT_TIMEOUT, PAGEBRIDGE_TASK_BUDGET, PAGEBRIDGE_MAX_HTML_BYTES, PAGEBRIDGE_PAGE_URL
//   - PAGEBRIDGE_FETCH_TIMEOUT, PAGEBRIDGE_FETCH_RETRIES, PAGEBRIDGE_FETCH_RPS, PAGEBRIDGE_USER_AGENT
//   - PAGEBRIDGE_LENIENT
package config
