// Package main hosts the callpipe CLI entrypoint and command graph.
//
// The Cobra-based command tree covers running the daemon in the foreground,
// queue inspection and maintenance, feed registration, and configuration
// scaffolding. Commands operate directly on the shared SQLite database; the
// daemon's single-instance lock only guards the background loops, so
// inspection and maintenance work while it runs.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
