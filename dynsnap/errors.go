// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"errors"
	"fmt"
)

// Kind classifies the failures that backup and restore runs can produce.
type Kind string

const (
	// KindExportStartFailed is set when an export could not be started.
	KindExportStartFailed Kind = "ExportStartFailed"

	// KindExportTimedOut is set when an export was still running when the
	// run's time budget expired.
	KindExportTimedOut Kind = "ExportTimedOut"

	// KindExportFailed is set when DynamoDB reported an export as failed.
	KindExportFailed Kind = "ExportFailed"

	// KindManifestWriteFailed is set when the manifest could not be written
	// to S3.  This is fatal to a backup run.
	KindManifestWriteFailed Kind = "ManifestWriteFailed"

	// KindManifestNotFound is set when no manifest exists for the
	// requested backup date.
	KindManifestNotFound Kind = "ManifestNotFound"

	// KindManifestCorrupt is set when a manifest fails structural
	// validation during decode.
	KindManifestCorrupt Kind = "ManifestCorrupt"

	// KindClearFailed is set when clearing a table ahead of a restore
	// failed.  The table's restore is aborted; other tables proceed.
	KindClearFailed Kind = "ClearFailed"

	// KindBatchWriteFailed is set when a batch write failed after retries
	// were exhausted.
	KindBatchWriteFailed Kind = "BatchWriteFailed"

	// KindRecordValidationFailed is set when an exported record does not
	// match the target table's key schema.
	KindRecordValidationFailed Kind = "RecordValidationFailed"
)

// Error is the error type returned by backup and restore operations.
// Table is empty for whole-run faults.
type Error struct {
	Kind  Kind
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: table %s: %v", e.Kind, e.Table, e.Err)
		}
		return fmt.Sprintf("%s: table %s", e.Kind, e.Table)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or "" if err does not wrap an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, table string, err error) *Error {
	return &Error{Kind: kind, Table: table, Err: err}
}

func errorf(kind Kind, table, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Table: table, Err: fmt.Errorf(format, a...)}
}
