/*
Package log provides structured logging for the spawner using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers and configurable log levels. All logs
include timestamps and support filtering by severity level.

# Usage

Initialize once at process start, then derive child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("spawner")
	logger.Info().Str("service_name", name).Msg("service created")

# Identifier hygiene

Two rules hold everywhere in this codebase:

  - Raw user names never appear in log output; use log.WithOwner with the
    owner hash instead.
  - Cluster identifiers may be truncated with log.ShortID for readability,
    but only in log fields. Calls to the cluster always carry the full ID.
*/
package log
