// Package log provides the logging abstraction used by atlink components.
//
// The link package reports every diagnostic (connects, disconnects,
// timeouts, resyncs, send failures) through the Logger interface so the
// embedding application decides where the text goes.
//
// # Usage
//
//	logger := log.NewZerologAdapter()
//	srv, err := link.NewServer(cfg, link.WithLogger(logger))
//
// Use NewNoopLogger in tests or when no output is wanted.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package log
