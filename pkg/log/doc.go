// Package log provides the structured logging facade used by logstreams.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by slog via a
// custom handler that feeds the formatter and outputs pipeline, so every
// component prints the same shape of line.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("appender"), log.Int("partition", 1))
//	l.Info("flushed", log.Int64("lowest", 10), log.Int64("highest", 42))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config with JSON or text
// formatting and console, file or null outputs.
//
// # Interop
//
// Libraries that expect a *log.Logger from the standard library can use
// ToStdLogger, or RedirectStdLog to capture the global logger.
package log
