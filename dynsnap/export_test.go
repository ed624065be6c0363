// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

type fakeDynExporter struct {
	describeTable  func(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
	exportTable    func(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error)
	describeExport func(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error)
}

func (f *fakeDynExporter) DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	return f.describeTable(input)
}

func (f *fakeDynExporter) ExportTableToPointInTime(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error) {
	return f.exportTable(input)
}

func (f *fakeDynExporter) DescribeExport(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error) {
	return f.describeExport(input)
}

func describeTableOK(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableArn: aws.String("arn:aws:dynamodb:::table/" + aws.StringValue(input.TableName)),
		},
	}, nil
}

func TestStartExportOK(t *testing.T) {
	var gotInput *dynamodb.ExportTableToPointInTimeInput
	dyn := &fakeDynExporter{
		describeTable: describeTableOK,
		exportTable: func(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error) {
			gotInput = input
			return &dynamodb.ExportTableToPointInTimeOutput{
				ExportDescription: &dynamodb.ExportDescription{
					ExportArn:    aws.String("arn:export/1"),
					ExportStatus: aws.String("IN_PROGRESS"),
					ExportTime:   aws.Time(time.Now()),
				},
			}, nil
		},
	}
	c := &ExportClient{Dyn: dyn, Bucket: "bkt", Prefix: "exports"}

	rec := c.StartExport("users", "2025-07-19")
	if rec.Status != ExportInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.ExportARN != "arn:export/1" || rec.StartedAt == nil {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.S3Prefix != "exports/2025-07-19/users/" {
		t.Errorf("unexpected prefix %q", rec.S3Prefix)
	}
	if aws.StringValue(gotInput.ExportFormat) != dynamodb.ExportFormatDynamodbJson {
		t.Errorf("unexpected format %q", aws.StringValue(gotInput.ExportFormat))
	}
	if aws.StringValue(gotInput.ExportType) != dynamodb.ExportTypeFullExport {
		t.Errorf("unexpected export type %q", aws.StringValue(gotInput.ExportType))
	}
	if aws.StringValue(gotInput.TableArn) != "arn:aws:dynamodb:::table/users" {
		t.Errorf("unexpected table arn %q", aws.StringValue(gotInput.TableArn))
	}
}

func TestStartExportFailure(t *testing.T) {
	dyn := &fakeDynExporter{
		describeTable: describeTableOK,
		exportTable: func(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error) {
			return nil, errors.New("PITR not enabled")
		},
	}
	c := &ExportClient{Dyn: dyn, Bucket: "bkt", Prefix: "exports"}

	rec := c.StartExport("users", "2025-07-19")
	if rec.Status != ExportFailed {
		t.Errorf("expected FAILED, got %s", rec.Status)
	}
	if !strings.Contains(rec.Error, "ExportStartFailed") || !strings.Contains(rec.Error, "PITR not enabled") {
		t.Errorf("unexpected error %q", rec.Error)
	}
}

func TestStartExportDescribeTableFailure(t *testing.T) {
	dyn := &fakeDynExporter{
		describeTable: func(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
			return nil, errors.New("no such table")
		},
	}
	c := &ExportClient{Dyn: dyn, Bucket: "bkt", Prefix: "exports"}

	rec := c.StartExport("missing", "2025-07-19")
	if rec.Status != ExportFailed || !strings.Contains(rec.Error, "no such table") {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestPollExportCompleted(t *testing.T) {
	end := time.Now().UTC()
	dyn := &fakeDynExporter{
		describeExport: func(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error) {
			return &dynamodb.DescribeExportOutput{
				ExportDescription: &dynamodb.ExportDescription{
					ExportStatus:    aws.String("COMPLETED"),
					ItemCount:       aws.Int64(1234),
					BilledSizeBytes: aws.Int64(9999),
					EndTime:         aws.Time(end),
				},
			}, nil
		},
	}
	c := &ExportClient{Dyn: dyn}

	rec := ExportRecord{TableName: "users", ExportARN: "arn:export/1", Status: ExportInProgress}
	if err := c.PollExport(&rec); err != nil {
		t.Fatal("PollExport failed", err)
	}
	if rec.Status != ExportCompleted || rec.ItemCount != 1234 || rec.SizeBytes != 9999 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.Equal(end) {
		t.Errorf("unexpected completion time %v", rec.CompletedAt)
	}
}

func TestPollExportFailed(t *testing.T) {
	dyn := &fakeDynExporter{
		describeExport: func(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error) {
			return &dynamodb.DescribeExportOutput{
				ExportDescription: &dynamodb.ExportDescription{
					ExportStatus:   aws.String("FAILED"),
					FailureMessage: aws.String("internal error"),
				},
			}, nil
		},
	}
	c := &ExportClient{Dyn: dyn}

	rec := ExportRecord{TableName: "users", ExportARN: "arn:export/1", Status: ExportInProgress}
	if err := c.PollExport(&rec); err != nil {
		t.Fatal("PollExport failed", err)
	}
	if rec.Status != ExportFailed || !strings.Contains(rec.Error, "internal error") {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestPollExportStillRunning(t *testing.T) {
	dyn := &fakeDynExporter{
		describeExport: func(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error) {
			return &dynamodb.DescribeExportOutput{
				ExportDescription: &dynamodb.ExportDescription{
					ExportStatus: aws.String("IN_PROGRESS"),
				},
			}, nil
		},
	}
	c := &ExportClient{Dyn: dyn}

	rec := ExportRecord{TableName: "users", ExportARN: "arn:export/1", Status: ExportPending}
	if err := c.PollExport(&rec); err != nil {
		t.Fatal("PollExport failed", err)
	}
	if rec.Status != ExportInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", rec.Status)
	}
}

func TestPollExportDescribeError(t *testing.T) {
	testErr := errors.New("throttled")
	dyn := &fakeDynExporter{
		describeExport: func(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error) {
			return nil, testErr
		},
	}
	c := &ExportClient{Dyn: dyn}

	rec := ExportRecord{TableName: "users", ExportARN: "arn:export/1", Status: ExportInProgress}
	if err := c.PollExport(&rec); err != testErr {
		t.Errorf("expected poll error to propagate, got %v", err)
	}
	if rec.Status != ExportInProgress {
		t.Errorf("record should stay non-terminal, got %s", rec.Status)
	}
}
