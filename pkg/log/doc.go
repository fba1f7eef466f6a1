/*
Package log provides structured logging for the replicator using zerolog.

A single global Logger is configured once by Init, normally from the log
section of the configuration file. Until Init runs the logger discards
everything, so packages and tests can log freely without setup.

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

Console output is meant for operators running cycles by hand; JSON output
is meant for log shippers in long running deployments.

# Context Loggers

The helpers attach the identifiers the scheduler reasons about:

	WithComponent("scheduler")   component=scheduler
	WithRequestID(req.ID)        request_id=...
	WithChannelID(ch.ID)         channel_id=...
	WithLFN(file.LFN)            lfn=...

Each returns a zerolog.Logger value. Its event methods need an addressable
logger, so assign it before logging:

	logger := log.WithRequestID(req.ID)
	logger.Warn().Err(err).Msg("Failed to persist request")

# Levels

	debug   per-file decisions and skipped files
	info    cycle summaries, SE bans and recoveries
	warn    rolled back files, failed persists
	error   failed cycles
*/
package log
