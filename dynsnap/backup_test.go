// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// completingExporter simulates table exports that finish on their first
// status poll, with the given item count per table.
func completingExporter(itemCounts map[string]int64) *fakeDynExporter {
	return &fakeDynExporter{
		describeTable: describeTableOK,
		exportTable: func(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error) {
			table := strings.TrimPrefix(aws.StringValue(input.TableArn), "arn:aws:dynamodb:::table/")
			return &dynamodb.ExportTableToPointInTimeOutput{
				ExportDescription: &dynamodb.ExportDescription{
					ExportArn:    aws.String("arn:export/" + table),
					ExportStatus: aws.String("IN_PROGRESS"),
				},
			}, nil
		},
		describeExport: func(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error) {
			table := strings.TrimPrefix(aws.StringValue(input.ExportArn), "arn:export/")
			return &dynamodb.DescribeExportOutput{
				ExportDescription: &dynamodb.ExportDescription{
					ExportStatus:    aws.String("COMPLETED"),
					ItemCount:       aws.Int64(itemCounts[table]),
					BilledSizeBytes: aws.Int64(itemCounts[table] * 100),
					EndTime:         aws.Time(time.Now().UTC()),
				},
			}, nil
		},
	}
}

func newTestBackuper(dyn DynExporter, fs3 *fakeS3) *Backuper {
	return &Backuper{
		Exports:      &ExportClient{Dyn: dyn, Bucket: "test-bucket", Prefix: "exports"},
		Store:        newTestStore(fs3),
		Environment:  "production",
		Tables:       []string{"users", "sessions", "totp"},
		Date:         "2025-07-19",
		PollInitial:  time.Millisecond,
		PollMax:      2 * time.Millisecond,
		SafetyMargin: time.Millisecond,
	}
}

func TestBackupRunSuccess(t *testing.T) {
	fs3 := newFakeS3()
	b := newTestBackuper(completingExporter(map[string]int64{
		"users": 100, "sessions": 50, "totp": 25,
	}), fs3)

	m, err := b.Run(context.Background())
	if err != nil {
		t.Fatal("Run failed", err)
	}

	if m.OverallStatus != RunSuccess {
		t.Errorf("expected SUCCESS, got %s", m.OverallStatus)
	}
	if m.SuccessfulExports != 3 || m.FailedExports != 0 || m.TotalItemsExported != 175 {
		t.Errorf("unexpected counters %+v", m)
	}

	// manifest persisted at the date's key
	if _, ok := fs3.objects["exports/2025-07-19/manifest.json"]; !ok {
		t.Error("manifest not written to store")
	}
	stored, err := newTestStore(fs3).GetManifest("2025-07-19")
	if err != nil {
		t.Fatal("stored manifest unreadable", err)
	}
	if stored.OverallStatus != RunSuccess || stored.TotalExports != 3 {
		t.Errorf("unexpected stored manifest %+v", stored)
	}

	stats := b.Stats()
	if stats.TablesTotal != 3 || stats.TablesDone != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}

	report := NewBackupReport(m, "exports/2025-07-19/manifest.json")
	if report.StatusCode != 200 {
		t.Errorf("expected status code 200, got %d", report.StatusCode)
	}
}

// A table whose export cannot be started is recorded as failed without
// aborting the other tables.
func TestBackupRunPartial(t *testing.T) {
	fs3 := newFakeS3()
	dyn := completingExporter(map[string]int64{"users": 100, "totp": 25})
	start := dyn.exportTable
	dyn.exportTable = func(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error) {
		if strings.HasSuffix(aws.StringValue(input.TableArn), "/sessions") {
			return nil, errors.New("PITR not enabled")
		}
		return start(input)
	}
	b := newTestBackuper(dyn, fs3)

	m, err := b.Run(context.Background())
	if err != nil {
		t.Fatal("Run failed", err)
	}

	if m.OverallStatus != RunPartial {
		t.Errorf("expected PARTIAL, got %s", m.OverallStatus)
	}
	if m.SuccessfulExports != 2 || m.FailedExports != 1 {
		t.Errorf("unexpected counters %+v", m)
	}
	rec, ok := m.Record("sessions")
	if !ok || rec.Status != ExportFailed || !strings.Contains(rec.Error, "PITR not enabled") {
		t.Errorf("unexpected sessions record %+v", rec)
	}

	report := NewBackupReport(m, "k")
	if report.StatusCode != 207 {
		t.Errorf("expected status code 207, got %d", report.StatusCode)
	}
}

func TestBackupRunAllFailed(t *testing.T) {
	fs3 := newFakeS3()
	dyn := &fakeDynExporter{
		describeTable: describeTableOK,
		exportTable: func(input *dynamodb.ExportTableToPointInTimeInput) (*dynamodb.ExportTableToPointInTimeOutput, error) {
			return nil, errors.New("region down")
		},
	}
	b := newTestBackuper(dyn, fs3)

	m, err := b.Run(context.Background())
	if err != nil {
		t.Fatal("Run failed", err)
	}
	if m.OverallStatus != RunFailed || m.SuccessfulExports != 0 || m.FailedExports != 3 {
		t.Errorf("unexpected manifest %+v", m)
	}
	if report := NewBackupReport(m, "k"); report.StatusCode != 500 {
		t.Errorf("expected status code 500, got %d", report.StatusCode)
	}
}

// An export of an empty table completes with a zero item count and still
// counts as a success.
func TestBackupEmptyTable(t *testing.T) {
	fs3 := newFakeS3()
	b := newTestBackuper(completingExporter(map[string]int64{}), fs3)
	b.Tables = []string{"empty"}

	m, err := b.Run(context.Background())
	if err != nil {
		t.Fatal("Run failed", err)
	}
	if m.OverallStatus != RunSuccess || m.TotalItemsExported != 0 {
		t.Errorf("unexpected manifest %+v", m)
	}
	rec, _ := m.Record("empty")
	if rec.Status != ExportCompleted || rec.ItemCount != 0 {
		t.Errorf("unexpected record %+v", rec)
	}
}

// Exports still running when the time budget expires are forcibly failed
// and the manifest is written within the safety margin.
func TestBackupTimeout(t *testing.T) {
	fs3 := newFakeS3()
	dyn := completingExporter(nil)
	dyn.describeExport = func(input *dynamodb.DescribeExportInput) (*dynamodb.DescribeExportOutput, error) {
		return &dynamodb.DescribeExportOutput{
			ExportDescription: &dynamodb.ExportDescription{
				ExportStatus: aws.String("IN_PROGRESS"),
			},
		}, nil
	}
	b := newTestBackuper(dyn, fs3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	m, err := b.Run(ctx)
	if err != nil {
		t.Fatal("Run failed", err)
	}

	if m.OverallStatus != RunFailed || m.FailedExports != 3 {
		t.Errorf("unexpected manifest %+v", m)
	}
	for _, rec := range m.Tables {
		if rec.Status != ExportFailed {
			t.Errorf("table %s not failed: %s", rec.TableName, rec.Status)
		}
		if !strings.Contains(rec.Error, "time budget expired") {
			t.Errorf("table %s unexpected error %q", rec.TableName, rec.Error)
		}
	}
	if _, ok := fs3.objects["exports/2025-07-19/manifest.json"]; !ok {
		t.Error("manifest not written after timeout")
	}
}

func TestBackupDefaultsDateToToday(t *testing.T) {
	fs3 := newFakeS3()
	b := newTestBackuper(completingExporter(map[string]int64{"users": 1}), fs3)
	b.Tables = []string{"users"}
	b.Date = ""

	m, err := b.Run(context.Background())
	if err != nil {
		t.Fatal("Run failed", err)
	}
	if expected := time.Now().UTC().Format("2006-01-02"); m.BackupDate != expected {
		t.Errorf("expected=%q actual=%q", expected, m.BackupDate)
	}
}

// A manifest write failure is the one fatal error a backup run produces.
func TestBackupManifestWriteFailed(t *testing.T) {
	fs3 := newFakeS3()
	fs3.putErr = errors.New("access denied")
	b := newTestBackuper(completingExporter(map[string]int64{"users": 1}), fs3)
	b.Tables = []string{"users"}

	_, err := b.Run(context.Background())
	if KindOf(err) != KindManifestWriteFailed {
		t.Errorf("expected ManifestWriteFailed, got %v", err)
	}
}

func TestBackupMirror(t *testing.T) {
	fs3 := newFakeS3()
	b := newTestBackuper(completingExporter(map[string]int64{"users": 1}), fs3)
	b.Tables = []string{"users"}
	b.MirrorBucket = "mirror-bucket"

	if _, err := b.Run(context.Background()); err != nil {
		t.Fatal("Run failed", err)
	}
	if len(fs3.copied) == 0 {
		t.Error("expected mirror to copy the backup objects")
	}
}
