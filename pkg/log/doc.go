/*
Package log provides structured logging for Beacon using zerolog.

The package wraps a single global zerolog.Logger with component-scoped child
loggers and a handful of helpers. Every Beacon package logs through it so
output format and level are controlled in one place by the serve command.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Level filters everything below the threshold (debug, info, warn, error).
JSONOutput selects machine-readable lines; otherwise a console writer with
RFC3339 timestamps is used.

# Context Loggers

	ingestLog := log.WithComponent("ingest")
	ingestLog.Warn().Str("reason", "stale").Msg("Report rejected")

	trackerLog := log.WithTrackerID(ingestLog, "tonw-0007")
	trackerLog.Debug().Float64("gap_seconds", 10).Msg("Report accepted")

	keysLog := log.WithComponent("keys")
	eventLog := log.WithEvent(keysLog, "race")
	eventLog.Info().Msg("Issued event API key")

Component names used across the tree: ingest, mqtt, keys, assignment,
session, storage, api, audit.

# Rules

Integrity tags, event key secrets, admin passwords and session tokens are
never written to the log. Rejected reports are logged at warn with the
rejection reason; accepted reports at debug.
*/
package log
