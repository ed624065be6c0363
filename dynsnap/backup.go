// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultPollInitial is the starting delay between export status polls.
	DefaultPollInitial = 5 * time.Second

	// DefaultPollMax caps the backoff between export status polls.
	DefaultPollMax = 60 * time.Second

	// DefaultSafetyMargin is subtracted from the run deadline so a
	// manifest can always be written before the invocation is cut off.
	DefaultSafetyMargin = 30 * time.Second
)

// Backuper drives one backup run across a fleet of tables: it starts a
// native export per table, polls them to completion within the run's time
// budget and writes a manifest recording every table's outcome.
//
// A Backuper owns its export records for the duration of one run; it holds
// no cross-run state and two Backupers can run without interference.
type Backuper struct {
	Exports     *ExportClient
	Store       *Store
	Environment string
	Tables      []string

	// Date is the backup date in YYYY-MM-DD form.  Defaults to today (UTC).
	Date string

	// MirrorBucket, if set, receives a best-effort copy of the completed
	// backup.  Mirror failures never affect the run outcome.
	MirrorBucket string

	PollInitial  time.Duration // defaults to DefaultPollInitial
	PollMax      time.Duration // defaults to DefaultPollMax
	SafetyMargin time.Duration // defaults to DefaultSafetyMargin

	tablesTotal int64
	tablesDone  int64
}

// BackupStats reports progress of an ongoing run.  Safe to call from
// concurrent goroutines.
type BackupStats struct {
	TablesTotal int64
	TablesDone  int64 // exports in a terminal state
}

// Stats returns current progress counters for an ongoing or completed run.
func (b *Backuper) Stats() BackupStats {
	return BackupStats{
		TablesTotal: atomic.LoadInt64(&b.tablesTotal),
		TablesDone:  atomic.LoadInt64(&b.tablesDone),
	}
}

// Run executes the backup.  Per-table failures (start failures, server
// side export failures, timeouts) are recorded in the manifest and never
// abort the run; the only fatal error is a failure to write the manifest
// itself, since an unrecorded backup is unusable.
func (b *Backuper) Run(ctx context.Context) (*Manifest, error) {
	date := b.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	atomic.StoreInt64(&b.tablesTotal, int64(len(b.Tables)))

	log.Info().
		Str("environment", b.Environment).
		Str("backup_date", date).
		Str("bucket", b.Store.Bucket).
		Int("tables", len(b.Tables)).
		Msg("starting backup run")

	records := b.startExports(date)
	b.pollExports(ctx, records)

	m := newManifest(date, b.Environment, b.Store.Bucket, records)
	key, err := b.Store.PutManifest(m)
	if err != nil {
		log.Error().Err(err).Str("backup_date", date).Msg("manifest write failed")
		return nil, newError(KindManifestWriteFailed, "", err)
	}
	log.Info().
		Str("manifest_key", key).
		Str("overall_status", string(m.OverallStatus)).
		Int("successful", m.SuccessfulExports).
		Int("failed", m.FailedExports).
		Int64("items", m.TotalItemsExported).
		Msg("backup run complete")

	if b.MirrorBucket != "" {
		if copied, merr := b.Store.MirrorBackup(b.MirrorBucket, date); merr != nil {
			log.Warn().Err(merr).Str("mirror_bucket", b.MirrorBucket).Msg("backup mirror incomplete")
		} else {
			log.Info().Str("mirror_bucket", b.MirrorBucket).Int("objects", copied).Msg("backup mirrored")
		}
	}
	return m, nil
}

// startExports fires off all exports concurrently.  A table whose export
// cannot be started gets an immediate FAILED record without blocking the
// other tables.
func (b *Backuper) startExports(date string) []ExportRecord {
	records := make([]ExportRecord, len(b.Tables))
	var wg sync.WaitGroup
	for i, table := range b.Tables {
		wg.Add(1)
		go func(i int, table string) {
			defer wg.Done()
			rec := b.Exports.StartExport(table, date)
			if rec.Status == ExportFailed {
				log.Error().Str("table", table).Str("error", rec.Error).Msg("export start failed")
				atomic.AddInt64(&b.tablesDone, 1)
			} else {
				log.Info().Str("table", table).Str("export_arn", rec.ExportARN).Msg("export started")
			}
			records[i] = rec
		}(i, table)
	}
	wg.Wait()
	return records
}

// pollExports polls all non-terminal exports in a single loop with
// exponential backoff until every record is terminal or the time budget is
// exhausted, at which point remaining records are forcibly failed rather
// than left ambiguous.
func (b *Backuper) pollExports(ctx context.Context, records []ExportRecord) {
	pollInitial := b.PollInitial
	if pollInitial <= 0 {
		pollInitial = DefaultPollInitial
	}
	pollMax := b.PollMax
	if pollMax <= 0 {
		pollMax = DefaultPollMax
	}
	margin := b.SafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}

	var cutoff time.Time
	if deadline, ok := ctx.Deadline(); ok {
		cutoff = deadline.Add(-margin)
	}

	backoff := pollInitial
	for {
		if remaining(records) == 0 {
			return
		}
		if !cutoff.IsZero() && !time.Now().Before(cutoff) {
			b.failRemaining(records)
			return
		}

		wait := backoff
		if !cutoff.IsZero() {
			if budget := time.Until(cutoff); budget < wait {
				wait = budget
			}
		}
		select {
		case <-ctx.Done():
			b.failRemaining(records)
			return
		case <-time.After(wait):
		}
		if backoff *= 2; backoff > pollMax {
			backoff = pollMax
		}

		for i := range records {
			rec := &records[i]
			if rec.Status.Terminal() {
				continue
			}
			if err := b.Exports.PollExport(rec); err != nil {
				// transient describe failure; try again next iteration
				log.Warn().Err(err).Str("table", rec.TableName).Msg("export status poll failed")
				continue
			}
			if rec.Status.Terminal() {
				atomic.AddInt64(&b.tablesDone, 1)
				if rec.Status == ExportCompleted {
					log.Info().
						Str("table", rec.TableName).
						Int64("items", rec.ItemCount).
						Int64("size_bytes", rec.SizeBytes).
						Msg("export completed")
				} else {
					log.Error().Str("table", rec.TableName).Str("error", rec.Error).Msg("export failed")
				}
			}
		}
	}
}

func (b *Backuper) failRemaining(records []ExportRecord) {
	for i := range records {
		rec := &records[i]
		if rec.Status.Terminal() {
			continue
		}
		rec.Status = ExportFailed
		rec.Error = errorf(KindExportTimedOut, rec.TableName,
			"export still running when the run's time budget expired").Error()
		atomic.AddInt64(&b.tablesDone, 1)
		log.Error().Str("table", rec.TableName).Msg("export timed out")
	}
}

func remaining(records []ExportRecord) (n int) {
	for i := range records {
		if !records[i].Status.Terminal() {
			n++
		}
	}
	return n
}
