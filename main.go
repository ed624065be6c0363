// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

/*
Command dynsnap backs up and restores fleets of DynamoDB tables using the
service's native point-in-time export mechanism, with S3 as the backup
medium.

The backup command starts an export for every configured table, waits for
them to finish and writes a manifest to S3 describing each table's
outcome.  The restore command locates a manifest by date (or picks the
most recent one) and rehydrates the tables from the exported record files
using parallel batch writes, with support for dry runs, restoring a subset
of tables and clearing existing data first.

AWS credentials are resolved through the SDK's default chain (environment,
shared credentials file, or instance role).
*/
package main

import (
	"os"
	"strings"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	version        = "1.0.0"
	statsFrequency = 2 * time.Second
)

func main() {
	_ = godotenv.Load() // best-effort
	initLogging()

	app := cli.App("dynsnap", "Backup and restore DynamoDB tables via native point-in-time exports")
	app.Version("v version", "dynsnap "+version)

	registerBackupCommand(app)
	registerRestoreCommand(app)
	registerInspectCommand(app)
	registerPruneCommand(app)

	app.Run(os.Args)
}

// initLogging configures zerolog from LOG_LEVEL and LOG_FORMAT.
// Timestamps are always UTC RFC3339.
func initLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "console" {
		cw := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.TimeFormat = time.RFC3339
		})
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
