// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/juju/ratelimit"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxWorkers is the batch writer pool size used when the
	// request does not specify one.
	DefaultMaxWorkers = 5

	// batchSize is DynamoDB's BatchWriteItem request limit.
	batchSize = 25

	// DefaultRetryAttempts bounds retries of rejected batch-write subsets.
	DefaultRetryAttempts = 3

	// dryRunSampleFiles is how many data files are HEADed per table to
	// estimate a dry run's restore size.
	dryRunSampleFiles = 5
)

// maxRetryBackoff caps the delay between batch write retry attempts.
const maxRetryBackoff = 10 * time.Second

// DynRestorer defines the portion of the DynamoDB service the restore
// engine requires.
type DynRestorer interface {
	DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
	Scan(input *dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	BatchWriteItem(input *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)
}

// Restorer drives one restore run: it resolves the target manifest,
// streams each table's exported record files out of S3 and rehydrates the
// table through a bounded pool of batch writers.  Writes are idempotent
// key-value puts, so no ordering is guaranteed or required.
type Restorer struct {
	Dyn   DynRestorer
	Store *Store

	// Date selects the backup to restore: an explicit YYYY-MM-DD date, or
	// "latest" (also the default when empty) for the most recent one.
	Date string

	// Tables restricts the restore to the named tables when non-empty.
	// Names absent from the manifest are simply not in the result set.
	Tables []string

	// DryRun reads and validates every record without issuing a single
	// write or clear call.
	DryRun bool

	// ClearExisting deletes all existing rows from each table before
	// writing.  A clear failure aborts that table's restore only.
	ClearExisting bool

	MaxWorkers    int           // batch writer pool size; defaults to DefaultMaxWorkers
	WriteCapacity float64       // aggregate write units/sec; 0 = unlimited
	RetryAttempts int           // defaults to DefaultRetryAttempts
	RetryBackoff  time.Duration // base retry delay; defaults to 1s, doubling per attempt
	TablePause    time.Duration // optional pause between tables

	rateLimit     *ratelimit.Bucket
	itemsRestored int64
	itemsFailed   int64
	expectedItems int64
}

// RestoreStats reports progress of an ongoing run.  Safe to call from
// concurrent goroutines.
type RestoreStats struct {
	ItemsRestored int64
	ItemsFailed   int64
	ExpectedItems int64
}

// Stats returns current progress counters for an ongoing or completed run.
func (r *Restorer) Stats() RestoreStats {
	return RestoreStats{
		ItemsRestored: atomic.LoadInt64(&r.itemsRestored),
		ItemsFailed:   atomic.LoadInt64(&r.itemsFailed),
		ExpectedItems: atomic.LoadInt64(&r.expectedItems),
	}
}

// Run executes the restore and returns the per-table report.  Whole-run
// faults (no manifest, corrupt manifest) return an error; per-table
// faults are isolated into their table's result.
func (r *Restorer) Run(ctx context.Context) (*RestoreReport, error) {
	date := r.Date
	if date == "" || date == "latest" {
		var err error
		if date, err = r.Store.LatestBackupDate(); err != nil {
			return nil, err
		}
		log.Info().Str("backup_date", date).Msg("resolved latest backup")
	}

	manifest, err := r.Store.GetManifest(date)
	if err != nil {
		return nil, err
	}

	working := r.workingSet(manifest)
	var expected int64
	for _, rec := range working {
		if rec.Status == ExportCompleted {
			expected += rec.ItemCount
		}
	}
	atomic.StoreInt64(&r.expectedItems, expected)

	log.Info().
		Str("backup_date", date).
		Int("tables", len(working)).
		Bool("dry_run", r.DryRun).
		Bool("clear_existing", r.ClearExisting).
		Int("max_workers", r.maxWorkers()).
		Msg("starting restore run")

	results := make([]RestoreResult, 0, len(working))
	for i, rec := range working {
		if rec.Status != ExportCompleted {
			log.Warn().Str("table", rec.TableName).Str("status", string(rec.Status)).
				Msg("skipping table with no completed export")
			results = append(results, RestoreResult{
				TableName: rec.TableName,
				Status:    RestoreSkipped,
				Error:     rec.Error,
			})
			continue
		}
		results = append(results, r.restoreTable(ctx, rec))
		if r.TablePause > 0 && i < len(working)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(r.TablePause):
			}
		}
	}

	report := newRestoreReport(date, manifest.Environment, r.DryRun, results)
	log.Info().
		Str("backup_date", date).
		Str("overall_status", string(report.OverallStatus)).
		Int("successful", report.SuccessfulRestores).
		Int("partial", report.PartialRestores).
		Int("failed", report.FailedRestores).
		Int("skipped", report.SkippedRestores).
		Int64("items_restored", report.TotalItemsRestored).
		Int64("items_failed", report.TotalItemsFailed).
		Msg("restore run complete")
	return report, nil
}

// workingSet intersects the manifest's tables with the request's filter.
func (r *Restorer) workingSet(m *Manifest) []ExportRecord {
	if len(r.Tables) == 0 {
		return m.Tables
	}
	wanted := make(map[string]bool, len(r.Tables))
	for _, t := range r.Tables {
		wanted[t] = true
	}
	var out []ExportRecord
	for _, rec := range m.Tables {
		if wanted[rec.TableName] {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Restorer) maxWorkers() int {
	if r.MaxWorkers > 0 {
		return r.MaxWorkers
	}
	return DefaultMaxWorkers
}

func (r *Restorer) retryAttempts() int {
	if r.RetryAttempts > 0 {
		return r.RetryAttempts
	}
	return DefaultRetryAttempts
}

func (r *Restorer) retryBackoff(attempt int) time.Duration {
	base := r.RetryBackoff
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt)
	if d > maxRetryBackoff || d < base {
		d = maxRetryBackoff
	}
	return d
}

// restoreTable rehydrates one table from its export record.  All failures
// are captured in the result; nothing propagates to sibling tables.
func (r *Restorer) restoreTable(ctx context.Context, rec ExportRecord) RestoreResult {
	result := RestoreResult{TableName: rec.TableName, Status: RestoreFailed}
	table := rec.TableName

	desc, err := r.Dyn.DescribeTable(&dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		result.Error = fmt.Sprintf("describe table: %v", err)
		log.Error().Err(err).Str("table", table).Msg("restore target table unavailable")
		return result
	}
	ks := keySchemaFromTable(desc.Table)
	if ks.hashKey == "" {
		result.Error = "could not determine partition key for table"
		return result
	}

	if r.ClearExisting && !r.DryRun {
		cleared, err := r.clearTable(ctx, table, ks)
		result.ItemsCleared = cleared
		if err != nil {
			result.Error = newError(KindClearFailed, table, err).Error()
			log.Error().Err(err).Str("table", table).Msg("clear existing data failed; aborting table restore")
			return result
		}
		log.Info().Str("table", table).Int64("items", cleared).Msg("cleared existing table data")
	}

	files, err := r.Store.ListDataFiles(rec)
	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).Str("table", table).Msg("no export data files found")
		return result
	}
	result.DataFiles = len(files)

	if r.DryRun {
		sample := files
		if len(sample) > dryRunSampleFiles {
			sample = sample[:dryRunSampleFiles]
		}
		for _, key := range sample {
			if size, err := r.Store.ObjectSize(key); err == nil {
				result.EstimatedSize += size
			}
		}
	}

	written, failed, streamErr := r.writeTable(ctx, table, ks, files)
	result.ItemsRestored = written
	result.ItemsFailed = failed
	if streamErr != nil {
		result.Error = streamErr.Error()
	}

	switch {
	case failed == 0 && streamErr == nil:
		result.Status = RestoreSuccess
	case written > 0:
		result.Status = RestorePartial
	default:
		result.Status = RestoreFailed
	}
	log.Info().
		Str("table", table).
		Str("status", string(result.Status)).
		Int64("items_restored", written).
		Int64("items_failed", failed).
		Msg("table restore finished")
	return result
}

// writeTable streams the export files through a producer feeding a fixed
// pool of batch writers.  The pool is drained and joined before return.
func (r *Restorer) writeTable(ctx context.Context, table string, ks keySchema, files []string) (written, failed int64, err error) {
	if r.WriteCapacity > 0 && r.rateLimit == nil {
		r.rateLimit = ratelimit.NewBucketWithQuantum(time.Second,
			int64(r.WriteCapacity), int64(r.WriteCapacity))
	}

	items := make(chan map[string]*dynamodb.AttributeValue, batchSize*r.maxWorkers())
	var streamErr error

	go func() {
		defer close(items)
		for _, key := range files {
			if streamErr = r.streamFile(ctx, key, table, ks, items, &failed); streamErr != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	var poolWritten, poolFailed int64
	for i := 0; i < r.maxWorkers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]*dynamodb.WriteRequest, 0, batchSize)
			flush := func() {
				if len(batch) == 0 {
					return
				}
				w, f := r.sendBatch(ctx, table, batch)
				atomic.AddInt64(&poolWritten, w)
				atomic.AddInt64(&poolFailed, f)
				atomic.AddInt64(&r.itemsRestored, w)
				atomic.AddInt64(&r.itemsFailed, f)
				batch = batch[:0]
			}
			for item := range items {
				if r.DryRun {
					// validated upstream; would be written
					atomic.AddInt64(&poolWritten, 1)
					atomic.AddInt64(&r.itemsRestored, 1)
					continue
				}
				batch = append(batch, &dynamodb.WriteRequest{
					PutRequest: &dynamodb.PutRequest{Item: item},
				})
				if len(batch) == batchSize {
					flush()
				}
			}
			flush()
		}()
	}
	wg.Wait()

	// producer has exited by the time the pool drains
	return poolWritten, atomic.LoadInt64(&failed) + poolFailed, streamErr
}

// streamFile decodes one data file, validating each record against the
// table's key schema.  Malformed or invalid records are counted as failed
// without aborting the file.
func (r *Restorer) streamFile(ctx context.Context, key, table string, ks keySchema,
	items chan<- map[string]*dynamodb.AttributeValue, failed *int64) error {

	rc, err := r.Store.OpenDataFile(key)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()

	dec := NewItemDecoder(rc)
	for {
		item, err := dec.ReadItem()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, errMalformedRecord) {
			atomic.AddInt64(failed, 1)
			atomic.AddInt64(&r.itemsFailed, 1)
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if verr := ks.validate(item); verr != nil {
			atomic.AddInt64(failed, 1)
			atomic.AddInt64(&r.itemsFailed, 1)
			continue
		}
		select {
		case items <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sendBatch submits one batch write, retrying only the rejected subset
// with exponential backoff until the attempt cap, after which the
// remainder counts as failed.
func (r *Restorer) sendBatch(ctx context.Context, table string, reqs []*dynamodb.WriteRequest) (written, failed int64) {
	attempts := r.retryAttempts()
	pending := reqs

	for attempt := 0; ; attempt++ {
		if r.rateLimit != nil {
			r.waitCapacity(ctx, writeCapacityUnits(pending))
		}
		out, err := r.Dyn.BatchWriteItem(&dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]*dynamodb.WriteRequest{table: pending},
		})
		if err != nil {
			if attempt+1 >= attempts {
				log.Error().Err(newError(KindBatchWriteFailed, table, err)).
					Int("items", len(pending)).Msg("batch write failed after retries")
				return written, int64(len(pending))
			}
			r.sleepBackoff(ctx, attempt)
			continue
		}

		unprocessed := out.UnprocessedItems[table]
		written += int64(len(pending) - len(unprocessed))
		if len(unprocessed) == 0 {
			return written, 0
		}
		if attempt+1 >= attempts {
			log.Warn().Str("table", table).Int("items", len(unprocessed)).
				Msg("unprocessed items remain after retry attempts")
			return written, int64(len(unprocessed))
		}
		pending = unprocessed
		r.sleepBackoff(ctx, attempt)
	}
}

func (r *Restorer) sleepBackoff(ctx context.Context, attempt int) {
	select {
	case <-ctx.Done():
	case <-time.After(r.retryBackoff(attempt)):
	}
}

// waitCapacity blocks until the rate limiter grants the requested write
// units, or the context is cancelled.
func (r *Restorer) waitCapacity(ctx context.Context, units int64) {
	d := r.rateLimit.Take(units)
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// clearTable deletes every row from a table via a paginated key-only scan
// feeding batched deletes.
func (r *Restorer) clearTable(ctx context.Context, table string, ks keySchema) (deleted int64, err error) {
	projection := "#hk"
	names := map[string]*string{"#hk": aws.String(ks.hashKey)}
	if ks.rangeKey != "" {
		projection += ", #rk"
		names["#rk"] = aws.String(ks.rangeKey)
	}

	input := &dynamodb.ScanInput{
		TableName:                aws.String(table),
		ProjectionExpression:     aws.String(projection),
		ExpressionAttributeNames: names,
	}
	for {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		resp, err := r.Dyn.Scan(input)
		if err != nil {
			return deleted, fmt.Errorf("scan: %w", err)
		}

		for start := 0; start < len(resp.Items); start += batchSize {
			end := start + batchSize
			if end > len(resp.Items) {
				end = len(resp.Items)
			}
			reqs := make([]*dynamodb.WriteRequest, 0, end-start)
			for _, item := range resp.Items[start:end] {
				reqs = append(reqs, &dynamodb.WriteRequest{
					DeleteRequest: &dynamodb.DeleteRequest{Key: ks.keyOf(item)},
				})
			}
			w, f := r.sendBatch(ctx, table, reqs)
			deleted += w
			if f > 0 {
				return deleted, fmt.Errorf("%d delete requests failed", f)
			}
		}

		if resp.LastEvaluatedKey == nil {
			return deleted, nil
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}
