// Package logging builds the process logger and carries request-scoped
// logging state through contexts.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//	slog.SetDefault(logger.Slog())
//
//	// Later, from a config reload
//	_ = logger.SetLevel("debug")
//
// The level is held in a slog.LevelVar, so changing it affects every logger
// derived from the root, including component loggers created with With.
//
// # Client Keys
//
// With RedactKeys set, attributes named "key" or "client_key" are replaced
// with an xxhash fingerprint. Deployments that key limits by API key should
// enable it.
//
// # Request Context
//
// The gateway middleware stores a logger carrying the request ID in the
// request context; handlers retrieve it with FromContext.
package logging
