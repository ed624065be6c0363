// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/gwatts/dynsnap/dynsnap"
	cli "github.com/jawher/mow.cli"
)

func registerBackupCommand(app *cli.Cli) {
	app.Command("backup", "Export DynamoDB tables to S3 and write a run manifest", func(cmd *cli.Cmd) {
		action := &backuper{
			bucket: cmd.String(cli.StringOpt{
				Name:   "b bucket",
				Value:  "",
				Desc:   "S3 bucket to receive the exports",
				EnvVar: "BACKUP_BUCKET",
			}),
			prefix: cmd.String(cli.StringOpt{
				Name:   "prefix",
				Value:  "exports",
				Desc:   "Key prefix within the bucket for backup runs",
				EnvVar: "EXPORT_PREFIX",
			}),
			environment: cmd.String(cli.StringOpt{
				Name:   "e environment",
				Value:  "production",
				Desc:   "Environment label recorded in the manifest",
				EnvVar: "ENVIRONMENT",
			}),
			tablesRaw: cmd.String(cli.StringOpt{
				Name:   "t tables",
				Value:  "",
				Desc:   `Tables to export, as a JSON array or comma separated list`,
				EnvVar: "DYNAMODB_TABLES",
			}),
			date: cmd.String(cli.StringOpt{
				Name:   "date",
				Value:  "",
				Desc:   "Backup date (YYYY-MM-DD).  Defaults to today (UTC)",
				EnvVar: "BACKUP_DATE",
			}),
			timeout: cmd.String(cli.StringOpt{
				Name:   "timeout",
				Value:  "14m",
				Desc:   "Overall time budget for the run (Go duration)",
				EnvVar: "BACKUP_TIMEOUT",
			}),
			mirrorBucket: cmd.String(cli.StringOpt{
				Name:   "mirror-bucket",
				Value:  "",
				Desc:   "Optional second bucket to receive a best-effort copy of the backup",
				EnvVar: "MIRROR_BUCKET",
			}),
		}
		cmd.Spec = "--bucket --tables [--prefix] [--environment] [--date] [--timeout] [--mirror-bucket]"
		cmd.Action = actionRunner(cmd, action)
	})
}

type backuper struct {
	b      *dynsnap.Backuper
	cancel context.CancelFunc
	tables []string
	budget time.Duration
	report *dynsnap.BackupReport

	// options
	bucket       *string
	prefix       *string
	environment  *string
	tablesRaw    *string
	date         *string
	timeout      *string
	mirrorBucket *string
}

func (b *backuper) init() error {
	tables, err := parseTables(*b.tablesRaw)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return fmt.Errorf("no tables configured")
	}
	b.tables = tables

	b.budget, err = time.ParseDuration(*b.timeout)
	if err != nil || b.budget <= 0 {
		return fmt.Errorf("invalid timeout %q", *b.timeout)
	}
	if *b.date != "" {
		if _, err := time.Parse("2006-01-02", *b.date); err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", *b.date)
		}
	}

	aws := initAWS()
	b.b = &dynsnap.Backuper{
		Exports: &dynsnap.ExportClient{
			Dyn:    aws.dyn,
			Bucket: *b.bucket,
			Prefix: *b.prefix,
		},
		Store: &dynsnap.Store{
			S3:     aws.s3,
			Bucket: *b.bucket,
			Prefix: *b.prefix,
		},
		Environment:  *b.environment,
		Tables:       tables,
		Date:         *b.date,
		MirrorBucket: *b.mirrorBucket,
	}
	return nil
}

func (b *backuper) start(infoWriter io.Writer) (done chan error, err error) {
	fmt.Fprintf(infoWriter, "Beginning backup: tables=%d bucket=%q prefix=%q environment=%q timeout=%s\n",
		len(b.tables), *b.bucket, *b.prefix, *b.environment, b.budget)

	ctx, cancel := context.WithTimeout(context.Background(), b.budget)
	b.cancel = cancel

	done = make(chan error, 1)
	go func() {
		defer cancel()
		m, err := b.b.Run(ctx)
		if err != nil {
			done <- err
			return
		}
		b.report = dynsnap.NewBackupReport(m, b.b.Store.ManifestKey(m.BackupDate))
		done <- nil
	}()
	return done, nil
}

func (b *backuper) newProgressBar() *pb.ProgressBar {
	return pb.New64(int64(len(b.tables)))
}

func (b *backuper) updateProgress(bar *pb.ProgressBar) {
	bar.Set64(b.b.Stats().TablesDone)
}

// abort cancels the run's context; still-running exports are recorded as
// failed and the manifest is written before the runner exits.
func (b *backuper) abort() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *backuper) finish(w io.Writer) int {
	if b.report == nil { // aborted before completion
		return 1
	}
	fmt.Fprintf(w, "Backup complete: status=%s succeeded=%d failed=%d items=%d\n",
		b.report.OverallStatus, b.report.SuccessfulExports, b.report.FailedExports,
		b.report.TotalItemsExported)
	printReport(b.report)
	return exitCodeFor(b.report.StatusCode)
}
