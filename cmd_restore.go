// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Bowery/prompt"
	"github.com/cheggaaa/pb"
	"github.com/gwatts/dynsnap/dynsnap"
	cli "github.com/jawher/mow.cli"
)

func registerRestoreCommand(app *cli.Cli) {
	app.Command("restore", "Restore DynamoDB tables from a backup run in S3", func(cmd *cli.Cmd) {
		action := &restorer{
			bucket: cmd.String(cli.StringOpt{
				Name:   "b bucket",
				Value:  "",
				Desc:   "S3 bucket holding the backups",
				EnvVar: "BACKUP_BUCKET",
			}),
			prefix: cmd.String(cli.StringOpt{
				Name:   "prefix",
				Value:  "exports",
				Desc:   "Key prefix within the bucket for backup runs",
				EnvVar: "EXPORT_PREFIX",
			}),
			date: cmd.String(cli.StringOpt{
				Name:   "d backup-date",
				Value:  "latest",
				Desc:   `Backup date to restore (YYYY-MM-DD), or "latest"`,
				EnvVar: "BACKUP_DATE",
			}),
			tablesRaw: cmd.String(cli.StringOpt{
				Name:   "t tables",
				Value:  "",
				Desc:   "Restrict the restore to these tables (JSON array or comma separated list)",
				EnvVar: "TABLE_FILTER",
			}),
			dryRun: cmd.Bool(cli.BoolOpt{
				Name:   "dry-run",
				Value:  false,
				Desc:   "Read and validate every record without writing anything",
				EnvVar: "DRY_RUN",
			}),
			clearExisting: cmd.Bool(cli.BoolOpt{
				Name:   "clear-existing",
				Value:  false,
				Desc:   "Delete all existing rows from each table before restoring",
				EnvVar: "CLEAR_EXISTING",
			}),
			force: cmd.BoolOpt("force", false,
				"Set to true to skip the confirmation prompt when clearing tables"),
			maxWorkers: cmd.Int(cli.IntOpt{
				Name:   "w max-workers",
				Value:  dynsnap.DefaultMaxWorkers,
				Desc:   "Number of concurrent batch writers per table",
				EnvVar: "MAX_WORKERS",
			}),
			writeCapacity: cmd.Int(cli.IntOpt{
				Name:   "write-capacity",
				Value:  0,
				Desc:   "Average aggregate write capacity to use (set to 0 for unlimited)",
				EnvVar: "WRITE_CAPACITY",
			}),
			tablePause: cmd.String(cli.StringOpt{
				Name:   "table-pause",
				Value:  "2s",
				Desc:   "Pause between tables (Go duration)",
				EnvVar: "TABLE_PAUSE",
			}),
		}
		cmd.Spec = "--bucket [--prefix] [--backup-date] [--tables] [--dry-run] " +
			"[--clear-existing] [--force] [--max-workers] [--write-capacity] [--table-pause]"
		cmd.Action = actionRunner(cmd, action)
	})
}

type restorer struct {
	r      *dynsnap.Restorer
	cancel context.CancelFunc
	report *dynsnap.RestoreReport

	// options
	bucket        *string
	prefix        *string
	date          *string
	tablesRaw     *string
	dryRun        *bool
	clearExisting *bool
	force         *bool
	maxWorkers    *int
	writeCapacity *int
	tablePause    *string
}

func (r *restorer) init() error {
	if err := dynsnap.ParseBackupDate(*r.date); err != nil {
		return err
	}
	tables, err := parseTables(*r.tablesRaw)
	if err != nil {
		return err
	}
	pause, err := time.ParseDuration(*r.tablePause)
	if err != nil || pause < 0 {
		return fmt.Errorf("invalid table-pause %q", *r.tablePause)
	}
	if *r.maxWorkers < 1 {
		return fmt.Errorf("invalid value for --max-workers")
	}

	if *r.clearExisting && !*r.dryRun && !*r.force {
		target := "all tables in the manifest"
		if len(tables) > 0 {
			target = strings.Join(tables, ", ")
		}
		fmt.Printf("Restore will DELETE all existing data from %s before loading backup %q\n\n", target, *r.date)
		ok, err := prompt.Ask("Are you sure you wish to clear and restore the above tables")
		if err != nil {
			return fmt.Errorf("Could not prompt for confirmation (use --force to override): %v", err)
		}
		if !ok {
			return errors.New("User rejected restore")
		}
	}

	aws := initAWS()
	r.r = &dynsnap.Restorer{
		Dyn: aws.dyn,
		Store: &dynsnap.Store{
			S3:     aws.s3,
			Bucket: *r.bucket,
			Prefix: *r.prefix,
		},
		Date:          *r.date,
		Tables:        tables,
		DryRun:        *r.dryRun,
		ClearExisting: *r.clearExisting,
		MaxWorkers:    *r.maxWorkers,
		WriteCapacity: float64(*r.writeCapacity),
		TablePause:    pause,
	}
	return nil
}

func (r *restorer) start(infoWriter io.Writer) (done chan error, err error) {
	fmt.Fprintf(infoWriter, "Beginning restore: date=%q bucket=%q prefix=%q dry-run=%t clear-existing=%t workers=%d\n",
		*r.date, *r.bucket, *r.prefix, *r.dryRun, *r.clearExisting, *r.maxWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	done = make(chan error, 1)
	go func() {
		defer cancel()
		report, err := r.r.Run(ctx)
		if err != nil {
			done <- err
			return
		}
		r.report = report
		done <- nil
	}()
	return done, nil
}

// newProgressBar sizes the bar from the manifest's expected item counts,
// which the restorer learns as it opens each table.
func (r *restorer) newProgressBar() *pb.ProgressBar {
	bar := pb.New64(r.r.Stats().ExpectedItems)
	return bar
}

func (r *restorer) updateProgress(bar *pb.ProgressBar) {
	stats := r.r.Stats()
	bar.Total = stats.ExpectedItems
	bar.Set64(stats.ItemsRestored + stats.ItemsFailed)
}

func (r *restorer) abort() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *restorer) finish(w io.Writer) int {
	if r.report == nil { // aborted before completion
		return 1
	}
	fmt.Fprintf(w, "Restore complete: status=%s succeeded=%d partial=%d failed=%d skipped=%d items=%d\n",
		r.report.OverallStatus, r.report.SuccessfulRestores, r.report.PartialRestores,
		r.report.FailedRestores, r.report.SkippedRestores, r.report.TotalItemsRestored)
	printReport(r.report)
	return exitCodeFor(r.report.StatusCode)
}
