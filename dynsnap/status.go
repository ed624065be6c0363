// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

// ExportStatus represents the state of a single table export.
type ExportStatus string

const (
	// ExportPending marks an export that has been submitted but not yet
	// confirmed running by DynamoDB.
	ExportPending ExportStatus = "PENDING"

	// ExportInProgress marks an export that DynamoDB reports as running.
	ExportInProgress ExportStatus = "IN_PROGRESS"

	// ExportCompleted marks a successfully finished export.  An export of
	// an empty table completes with a zero item count.
	ExportCompleted ExportStatus = "COMPLETED"

	// ExportFailed marks an export that failed to start, failed on the
	// server, or was still running when the run's time budget expired.
	ExportFailed ExportStatus = "FAILED"
)

// Terminal reports whether the status is final for a run.
func (s ExportStatus) Terminal() bool {
	return s == ExportCompleted || s == ExportFailed
}

func validExportStatus(s ExportStatus) bool {
	switch s {
	case ExportPending, ExportInProgress, ExportCompleted, ExportFailed:
		return true
	}
	return false
}

// normalizeExportStatus maps a raw status string reported by DynamoDB into
// the closed ExportStatus enum.  Provider strings never propagate past the
// adapter boundary; anything unrecognized maps to ExportFailed.
func normalizeExportStatus(raw string) ExportStatus {
	switch raw {
	case "IN_PROGRESS":
		return ExportInProgress
	case "COMPLETED":
		return ExportCompleted
	case "FAILED":
		return ExportFailed
	default:
		return ExportFailed
	}
}

// RunStatus is the aggregate outcome of a backup or restore run.
type RunStatus string

const (
	// RunSuccess means every table succeeded.
	RunSuccess RunStatus = "SUCCESS"

	// RunPartial means at least one table succeeded and at least one failed.
	RunPartial RunStatus = "PARTIAL"

	// RunFailed means no table succeeded.
	RunFailed RunStatus = "FAILED"
)

func validRunStatus(s RunStatus) bool {
	switch s {
	case RunSuccess, RunPartial, RunFailed:
		return true
	}
	return false
}

// RestoreStatus represents the outcome of restoring a single table.
type RestoreStatus string

const (
	// RestoreSuccess means every record for the table was written.
	RestoreSuccess RestoreStatus = "SUCCESS"

	// RestorePartial means some records were written and some failed.
	RestorePartial RestoreStatus = "PARTIAL"

	// RestoreFailed means no records for the table were written.
	RestoreFailed RestoreStatus = "FAILED"

	// RestoreSkipped means the table had no completed export to restore
	// from.  Skipped tables do not count toward the run's pass/fail tally.
	RestoreSkipped RestoreStatus = "SKIPPED"
)
