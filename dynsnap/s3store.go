// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
)

const s3ObjectNotFound = "NoSuchKey"

var backupDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// S3GetLister defines the portion of the S3 service required for reads.
type S3GetLister interface {
	GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	ListObjectsV2Pages(input *s3.ListObjectsV2Input, fn func(p *s3.ListObjectsV2Output, lastPage bool) bool) error
}

// S3Service defines the portion of the S3 service required by Store.
type S3Service interface {
	S3GetLister
	PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	HeadObject(input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	DeleteObjects(input *s3.DeleteObjectsInput) (*s3.DeleteObjectsOutput, error)
	CopyObject(input *s3.CopyObjectInput) (*s3.CopyObjectOutput, error)
}

// Store reads and writes backup artifacts in an S3 bucket.  All keys for
// one backup run live under <Prefix>/<YYYY-MM-DD>/, so runs for different
// dates never contend.
type Store struct {
	S3     S3Service
	Bucket string
	Prefix string // key prefix for all backups, eg. "exports"
}

// ManifestKey returns the key the manifest for a backup date is stored at.
func (st *Store) ManifestKey(date string) string {
	return manifestKey(st.Prefix, date)
}

// PutManifest writes the canonical manifest encoding for its backup date.
// The write is a single atomic put; concurrent runs for the same date are
// last-writer-wins at this key (a documented caller responsibility).
func (st *Store) PutManifest(m *Manifest) (key string, err error) {
	data, err := EncodeManifest(m)
	if err != nil {
		return "", err
	}
	key = st.ManifestKey(m.BackupDate)
	_, err = st.S3.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(st.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"backup-date":        aws.String(m.BackupDate),
			"environment":        aws.String(m.Environment),
			"backup-type":        aws.String(m.BackupType),
			"total-exports":      aws.String(strconv.Itoa(m.TotalExports)),
			"successful-exports": aws.String(strconv.Itoa(m.SuccessfulExports)),
		},
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// GetManifest fetches and decodes the manifest for a backup date.
// A missing manifest returns a ManifestNotFound error; a structurally
// invalid one returns ManifestCorrupt.
func (st *Store) GetManifest(date string) (*Manifest, error) {
	resp, err := st.S3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(st.Bucket),
		Key:    aws.String(st.ManifestKey(date)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3ObjectNotFound {
			return nil, errorf(KindManifestNotFound, "", "no manifest for backup date %s", date)
		}
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return DecodeManifest(data)
}

// ListBackupDates returns the backup dates present under the store prefix
// in ascending order.  Entries that are not ISO dates are ignored.
func (st *Store) ListBackupDates() ([]string, error) {
	var dates []string
	req := &s3.ListObjectsV2Input{
		Bucket:    aws.String(st.Bucket),
		Prefix:    aws.String(st.Prefix + "/"),
		Delimiter: aws.String("/"),
	}
	err := st.S3.ListObjectsV2Pages(req, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			parts := strings.Split(strings.TrimSuffix(aws.StringValue(cp.Prefix), "/"), "/")
			if len(parts) == 0 {
				continue
			}
			if date := parts[len(parts)-1]; backupDateRe.MatchString(date) {
				dates = append(dates, date)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dates)
	return dates, nil
}

// LatestBackupDate resolves the "latest" selector to the greatest ISO date
// with a backup present.  ISO dates sort lexicographically in time order.
func (st *Store) LatestBackupDate() (string, error) {
	dates, err := st.ListBackupDates()
	if err != nil {
		return "", err
	}
	if len(dates) == 0 {
		return "", errorf(KindManifestNotFound, "", "no backups found under s3://%s/%s", st.Bucket, st.Prefix)
	}
	return dates[len(dates)-1], nil
}

// ListDataFiles locates the record files a native export produced for one
// table.  The standard layout is <prefix>AWSDynamoDB/<export-id>/data/,
// with the newest export directory winning; files directly under the
// prefix and a recursive search are tried as fallbacks.
func (st *Store) ListDataFiles(rec ExportRecord) ([]string, error) {
	prefix := strings.TrimSuffix(rec.S3Prefix, "/")

	exportDirs, err := st.listCommonPrefixes(prefix + "/AWSDynamoDB/")
	if err != nil {
		return nil, err
	}
	if len(exportDirs) > 0 {
		// newest export dir first
		sort.Sort(sort.Reverse(sort.StringSlice(exportDirs)))
		for _, dataPath := range []string{exportDirs[0] + "data/", exportDirs[0]} {
			files, err := st.listDataObjects(dataPath)
			if err != nil {
				return nil, err
			}
			if len(files) > 0 {
				return files, nil
			}
		}
	}

	files, err := st.listDataObjects(prefix + "/")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no data files found for table %s under s3://%s/%s",
			rec.TableName, st.Bucket, prefix)
	}
	return files, nil
}

func (st *Store) listCommonPrefixes(prefix string) ([]string, error) {
	var out []string
	req := &s3.ListObjectsV2Input{
		Bucket:    aws.String(st.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	err := st.S3.ListObjectsV2Pages(req, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			out = append(out, aws.StringValue(cp.Prefix))
		}
		return true
	})
	return out, err
}

func (st *Store) listDataObjects(prefix string) ([]string, error) {
	var files []string
	req := &s3.ListObjectsV2Input{
		Bucket: aws.String(st.Bucket),
		Prefix: aws.String(prefix),
	}
	err := st.S3.ListObjectsV2Pages(req, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, ".json.gz") || strings.HasSuffix(key, ".json") {
				files = append(files, key)
			}
		}
		return true
	})
	sort.Strings(files)
	return files, err
}

// OpenDataFile opens a record file for streaming, decompressing on the fly
// when the key indicates gzip content.
func (st *Store) OpenDataFile(key string) (io.ReadCloser, error) {
	resp, err := st.S3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(st.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(key, ".gz") {
		return resp.Body, nil
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &gzipReadCloser{gz: gz, body: resp.Body}, nil
}

type gzipReadCloser struct {
	gz   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gerr := g.gz.Close()
	berr := g.body.Close()
	if gerr != nil {
		return gerr
	}
	return berr
}

// ObjectSize returns the stored size of a key in bytes.
func (st *Store) ObjectSize(key string) (int64, error) {
	resp, err := st.S3.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(st.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	return aws.Int64Value(resp.ContentLength), nil
}

// MirrorBackup copies every object for one backup date into another
// bucket.  It is a best-effort single-region copy; the first failure is
// returned and the caller decides whether it matters.
func (st *Store) MirrorBackup(dstBucket, date string) (copied int, err error) {
	prefix := fmt.Sprintf("%s/%s/", st.Prefix, date)
	req := &s3.ListObjectsV2Input{
		Bucket: aws.String(st.Bucket),
		Prefix: aws.String(prefix),
	}
	lerr := st.S3.ListObjectsV2Pages(req, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			_, cerr := st.S3.CopyObject(&s3.CopyObjectInput{
				Bucket:     aws.String(dstBucket),
				Key:        aws.String(key),
				CopySource: aws.String(st.Bucket + "/" + key),
			})
			if cerr != nil {
				err = fmt.Errorf("copy %s to %s: %w", key, dstBucket, cerr)
				return false
			}
			copied++
		}
		return true
	})
	if err == nil {
		err = lerr
	}
	return copied, err
}
