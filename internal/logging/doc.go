// Package logging builds the uber/zap loggers used across pagebridge.
//
// Two modes:
//   - Production: JSON lines, info level
//   - Development: colored console output, debug level
//
// Components never construct loggers themselves; they accept a *zap.Logger,
// normalise nil with OrNop and derive a child with Named:
//
//	logger := logging.NewDefault()
//	p, err := page.New(page.WithLogger(logger.Named("page")))
package logging
