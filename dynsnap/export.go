// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// DynExporter defines the portion of the DynamoDB service the export
// client requires.
type DynExporter interface {
	DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
	ExportTableToPointInTime(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error)
	DescribeExport(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error)
}

// ExportClient adapts DynamoDB's native point-in-time export API.  Raw
// provider status strings are normalized into the ExportStatus enum here
// and never escape this boundary.
type ExportClient struct {
	Dyn    DynExporter
	Bucket string // S3 bucket exports are written to
	Prefix string // key prefix under which backup dates are laid out
}

// StartExport begins a full native export of a table for the given backup
// date.  The returned record is PENDING on success; if the export could
// not be started the record is FAILED with the start error and a nil
// error is returned, leaving fault handling to the caller's aggregation.
func (c *ExportClient) StartExport(table, date string) ExportRecord {
	rec := ExportRecord{
		TableName: table,
		Status:    ExportPending,
		S3Prefix:  tableExportPrefix(c.Prefix, date, table),
	}

	desc, err := c.Dyn.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		rec.Status = ExportFailed
		rec.Error = newError(KindExportStartFailed, table, err).Error()
		return rec
	}

	resp, err := c.Dyn.ExportTableToPointInTime(&dynamodb.ExportTableToPointInTimeInput{
		TableArn:     desc.Table.TableArn,
		S3Bucket:     aws.String(c.Bucket),
		S3Prefix:     aws.String(rec.S3Prefix),
		ExportFormat: aws.String(dynamodb.ExportFormatDynamodbJson),
		ExportType:   aws.String(dynamodb.ExportTypeFullExport),
	})
	if err != nil {
		rec.Status = ExportFailed
		rec.Error = newError(KindExportStartFailed, table, err).Error()
		return rec
	}

	ed := resp.ExportDescription
	rec.ExportARN = aws.StringValue(ed.ExportArn)
	if t := aws.TimeValue(ed.ExportTime); !t.IsZero() {
		start := t
		rec.StartedAt = &start
	} else {
		now := time.Now().UTC()
		rec.StartedAt = &now
	}
	if s := normalizeExportStatus(aws.StringValue(ed.ExportStatus)); s == ExportInProgress {
		rec.Status = ExportInProgress
	}
	return rec
}

// PollExport refreshes a non-terminal record from DescribeExport, mutating
// it in place.  On transition to COMPLETED it captures the item count and
// billed size; on transition to FAILED it captures the reported error.
// Describe failures leave the record non-terminal for the next iteration.
func (c *ExportClient) PollExport(rec *ExportRecord) error {
	resp, err := c.Dyn.DescribeExport(&dynamodb.DescribeExportInput{
		ExportArn: aws.String(rec.ExportARN),
	})
	if err != nil {
		return err
	}

	ed := resp.ExportDescription
	switch normalizeExportStatus(aws.StringValue(ed.ExportStatus)) {
	case ExportCompleted:
		rec.Status = ExportCompleted
		rec.ItemCount = aws.Int64Value(ed.ItemCount)
		rec.SizeBytes = aws.Int64Value(ed.BilledSizeBytes)
		if t := aws.TimeValue(ed.EndTime); !t.IsZero() {
			end := t
			rec.CompletedAt = &end
		}

	case ExportFailed:
		rec.Status = ExportFailed
		msg := aws.StringValue(ed.FailureMessage)
		if msg == "" {
			msg = "export failed with no failure message"
		}
		rec.Error = errorf(KindExportFailed, rec.TableName, "%s", msg).Error()
		if t := aws.TimeValue(ed.EndTime); !t.IsZero() {
			end := t
			rec.CompletedAt = &end
		}

	default:
		rec.Status = ExportInProgress
	}
	return nil
}
