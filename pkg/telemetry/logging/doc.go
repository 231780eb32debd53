// Package logging provides structured logging with secret redaction.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON or text output
//   - Redaction of API keys, bearer tokens and tunnel auth tokens
//   - Request, connection and transport fields taken from the context
//   - A runtime-adjustable level (used by config hot reload)
//
// # Usage
//
//	logger, err := logging.Install(logging.OptionsFromConfig(cfg.Telemetry.Logging, os.Stdout))
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "request processed", "api_key", "sk-abc123xyz")
//	// request_id=req-123 api_key=sk-a***
//
//	logger.SetLevel("debug")
//
// In the server child process the writer is a logqueue.LineWriter so only
// complete lines reach the parent.
package logging
