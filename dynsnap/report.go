// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import "math"

// BackupReport is the invocation-boundary summary of a backup run.
type BackupReport struct {
	BackupDate           string    `json:"backup_date"`
	Environment          string    `json:"environment"`
	BackupType           string    `json:"backup_type"`
	TotalTablesProcessed int       `json:"total_tables_processed"`
	SuccessfulExports    int       `json:"successful_exports"`
	FailedExports        int       `json:"failed_exports"`
	TotalItemsExported   int64     `json:"total_items_exported"`
	TotalSizeMB          float64   `json:"total_size_mb"`
	ManifestS3Key        string    `json:"manifest_s3_key"`
	S3Bucket             string    `json:"s3_bucket"`
	OverallStatus        RunStatus `json:"overall_status"`
	StatusCode           int       `json:"status_code"`
}

// NewBackupReport builds the external summary for a finished run's
// manifest.
func NewBackupReport(m *Manifest, manifestKey string) *BackupReport {
	r := &BackupReport{
		BackupDate:           m.BackupDate,
		Environment:          m.Environment,
		BackupType:           m.BackupType,
		TotalTablesProcessed: m.TotalExports,
		SuccessfulExports:    m.SuccessfulExports,
		FailedExports:        m.FailedExports,
		TotalItemsExported:   m.TotalItemsExported,
		TotalSizeMB:          math.Round(float64(m.TotalSizeBytes)/(1<<20)*100) / 100,
		ManifestS3Key:        manifestKey,
		S3Bucket:             m.S3Bucket,
		OverallStatus:        m.OverallStatus,
	}
	r.StatusCode = statusCode(m.SuccessfulExports, m.FailedExports, 0)
	return r
}

// RestoreResult is the outcome of restoring a single table.
type RestoreResult struct {
	TableName     string        `json:"table_name"`
	Status        RestoreStatus `json:"status"`
	ItemsRestored int64         `json:"items_restored"`
	ItemsFailed   int64         `json:"items_failed"`
	ItemsCleared  int64         `json:"items_cleared,omitempty"`
	DataFiles     int           `json:"data_files,omitempty"`
	EstimatedSize int64         `json:"estimated_size_bytes,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// RestoreReport aggregates per-table restore results.  Skipped tables are
// listed for visibility but excluded from the pass/fail tally.
type RestoreReport struct {
	BackupDate         string          `json:"backup_date"`
	Environment        string          `json:"environment"`
	DryRun             bool            `json:"dry_run"`
	TablesRequested    int             `json:"tables_requested"`
	SuccessfulRestores int             `json:"successful_restores"`
	PartialRestores    int             `json:"partial_restores"`
	FailedRestores     int             `json:"failed_restores"`
	SkippedRestores    int             `json:"skipped_restores"`
	TotalItemsRestored int64           `json:"total_items_restored"`
	TotalItemsFailed   int64           `json:"total_items_failed"`
	OverallStatus      RunStatus       `json:"overall_status"`
	StatusCode         int             `json:"status_code"`
	Results            []RestoreResult `json:"results"`
}

func newRestoreReport(date, environment string, dryRun bool, results []RestoreResult) *RestoreReport {
	r := &RestoreReport{
		BackupDate:      date,
		Environment:     environment,
		DryRun:          dryRun,
		TablesRequested: len(results),
		Results:         results,
	}
	for _, res := range results {
		switch res.Status {
		case RestoreSuccess:
			r.SuccessfulRestores++
		case RestorePartial:
			r.PartialRestores++
		case RestoreFailed:
			r.FailedRestores++
		case RestoreSkipped:
			r.SkippedRestores++
		}
		r.TotalItemsRestored += res.ItemsRestored
		r.TotalItemsFailed += res.ItemsFailed
	}

	succeeded := r.SuccessfulRestores
	failed := r.FailedRestores
	switch {
	case failed == 0 && r.PartialRestores == 0:
		r.OverallStatus = RunSuccess
	case succeeded == 0 && r.PartialRestores == 0:
		r.OverallStatus = RunFailed
	default:
		r.OverallStatus = RunPartial
	}
	r.StatusCode = statusCode(succeeded, failed, r.PartialRestores)
	return r
}

// statusCode maps run outcomes to the HTTP-style convention used at the
// invocation boundary: 200 all succeeded, 207 partial, 500 total failure.
func statusCode(succeeded, failed, partial int) int {
	switch {
	case failed == 0 && partial == 0:
		return 200
	case succeeded == 0 && partial == 0:
		return 500
	default:
		return 207
	}
}
