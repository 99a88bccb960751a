/*
Package log provides structured logging for tangram using zerolog.

It wraps zerolog to give every component JSON or console structured
output, a configurable level, and a small set of context-logger
helpers for the identifiers tangram actually deals in: objects,
processes, and cache entries.

# Usage

	import "github.com/tangramdotdev/tangram/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	indexLog := log.WithComponent("index")
	indexLog.Info().Msg("indexer started")

	objLog := log.WithObjectID(id.String())
	objLog.Debug().Msg("object complete")

# Context loggers

  - WithComponent: tags every record with a component name (index, clean, process, checkout, transfer, api)
  - WithObjectID, WithProcessID, WithCacheEntryID: tag records with the relevant content-addressed identifier

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
