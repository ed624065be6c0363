// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// BackupType identifies the mechanism that produced a backup.
const BackupType = "DYNAMODB_NATIVE_EXPORT"

// TableDescriptor identifies a source or target table for a run.
type TableDescriptor struct {
	Name string `json:"name"`
	ARN  string `json:"arn,omitempty"`
}

// ExportRecord describes the outcome of one table's export within a backup
// run.  Records are created when the export is started and mutated only by
// the orchestrator's polling loop; once Status is terminal they are frozen.
type ExportRecord struct {
	TableName   string       `json:"table_name"`
	ExportARN   string       `json:"export_arn,omitempty"`
	Status      ExportStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	ItemCount   int64        `json:"item_count"`
	SizeBytes   int64        `json:"size_bytes"`
	S3Prefix    string       `json:"s3_prefix,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Manifest is the durable record of one backup run.  It is written once at
// the end of a run and never mutated; subsequent runs write new manifests.
type Manifest struct {
	BackupDate         string         `json:"backup_date"`
	Environment        string         `json:"environment"`
	BackupType         string         `json:"backup_type"`
	CreatedAt          time.Time      `json:"created_at"`
	S3Bucket           string         `json:"s3_bucket,omitempty"`
	TotalExports       int            `json:"total_exports"`
	SuccessfulExports  int            `json:"successful_exports"`
	FailedExports      int            `json:"failed_exports"`
	TotalItemsExported int64          `json:"total_items_exported"`
	TotalSizeBytes     int64          `json:"total_size_bytes"`
	OverallStatus      RunStatus      `json:"overall_status"`
	Tables             []ExportRecord `json:"tables"`
}

// OverallStatusOf computes the aggregate status for a set of export
// records: SUCCESS iff all completed, FAILED iff none completed, PARTIAL
// otherwise.
func OverallStatusOf(records []ExportRecord) RunStatus {
	var completed, failed int
	for _, r := range records {
		if r.Status == ExportCompleted {
			completed++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunSuccess
	case completed == 0:
		return RunFailed
	default:
		return RunPartial
	}
}

// newManifest assembles a manifest from finished export records, computing
// the overall status and summary counters.
func newManifest(date, environment, bucket string, records []ExportRecord) *Manifest {
	m := &Manifest{
		BackupDate:  date,
		Environment: environment,
		BackupType:  BackupType,
		CreatedAt:   time.Now().UTC(),
		S3Bucket:    bucket,
		Tables:      records,
	}
	m.TotalExports = len(records)
	for _, r := range records {
		if r.Status == ExportCompleted {
			m.SuccessfulExports++
			m.TotalItemsExported += r.ItemCount
			m.TotalSizeBytes += r.SizeBytes
		} else {
			m.FailedExports++
		}
	}
	m.OverallStatus = OverallStatusOf(records)
	return m
}

// EncodeManifest serializes a manifest to its canonical JSON form.
func EncodeManifest(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// DecodeManifest parses and validates a manifest.  Structural violations
// (missing required fields, unknown status values, negative counts) return
// a ManifestCorrupt error.  A stored overall_status that disagrees with
// the per-table records is logged and overridden; the per-table data is
// ground truth.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, newError(KindManifestCorrupt, "", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, err
	}

	derived := OverallStatusOf(m.Tables)
	if m.OverallStatus != "" && m.OverallStatus != derived {
		log.Warn().
			Str("backup_date", m.BackupDate).
			Str("stored_status", string(m.OverallStatus)).
			Str("derived_status", string(derived)).
			Msg("manifest overall_status inconsistent with table records; using derived value")
	}
	m.OverallStatus = derived
	return &m, nil
}

func validateManifest(m *Manifest) error {
	if m.BackupDate == "" {
		return errorf(KindManifestCorrupt, "", "manifest missing backup_date")
	}
	if m.Environment == "" {
		return errorf(KindManifestCorrupt, "", "manifest missing environment")
	}
	if m.Tables == nil {
		return errorf(KindManifestCorrupt, "", "manifest missing tables")
	}
	if m.OverallStatus != "" && !validRunStatus(m.OverallStatus) {
		return errorf(KindManifestCorrupt, "", "manifest has unknown overall_status %q", m.OverallStatus)
	}
	for i, r := range m.Tables {
		if r.TableName == "" {
			return errorf(KindManifestCorrupt, "", "manifest record %d missing table_name", i)
		}
		if !validExportStatus(r.Status) {
			return errorf(KindManifestCorrupt, "", "manifest record for table %s has unknown status %q",
				r.TableName, r.Status)
		}
		if r.ItemCount < 0 {
			return errorf(KindManifestCorrupt, "", "manifest record for table %s has negative item_count %d",
				r.TableName, r.ItemCount)
		}
		if r.SizeBytes < 0 {
			return errorf(KindManifestCorrupt, "", "manifest record for table %s has negative size_bytes %d",
				r.TableName, r.SizeBytes)
		}
	}
	return nil
}

// Record returns the export record for the named table, if present.
func (m *Manifest) Record(table string) (ExportRecord, bool) {
	for _, r := range m.Tables {
		if r.TableName == table {
			return r, true
		}
	}
	return ExportRecord{}, false
}

// manifestKey returns the S3 key for a backup date's manifest.
func manifestKey(prefix, date string) string {
	return fmt.Sprintf("%s/%s/manifest.json", prefix, date)
}

// tableExportPrefix returns the S3 prefix native exports are written
// under for one table on one backup date.
func tableExportPrefix(prefix, date, table string) string {
	return fmt.Sprintf("%s/%s/%s/", prefix, date, table)
}
