// Package logging assembles structured slog loggers shared by the callpipe
// daemon and CLI.
//
// It owns the console/JSON handler pair, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code automatically tags
// log lines with call UIDs, stages, and correlation IDs. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
