// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Pruner deletes one backup date from the store: every exported record
// file under the date's prefix, with the manifest removed last so a
// partially pruned backup is never mistaken for an intact one.
type Pruner struct {
	store    *Store
	date     string
	manifest *Manifest
	delcount int64
	abort    int64
}

// NewPruner creates a Pruner for a backup date.  It fetches the date's
// manifest before returning, to confirm a backup actually exists there.
func NewPruner(store *Store, date string) (*Pruner, error) {
	m, err := store.GetManifest(date)
	if err != nil {
		return nil, err
	}
	return &Pruner{store: store, date: date, manifest: m}, nil
}

// Manifest returns the manifest of the backup to be pruned.
func (p *Pruner) Manifest() *Manifest { return p.manifest }

// Completed returns the number of objects deleted so far.  It may be
// called while a prune is in progress.
func (p *Pruner) Completed() int64 {
	return atomic.LoadInt64(&p.delcount)
}

// Abort requests the pruner discontinues deleting the backup.
func (p *Pruner) Abort() {
	atomic.StoreInt64(&p.abort, 1)
}

// Prune deletes the backup.  It blocks until the delete operations
// complete or Abort is called.
func (p *Pruner) Prune() (err error) {
	bucket := aws.String(p.store.Bucket)
	prefix := fmt.Sprintf("%s/%s/", p.store.Prefix, p.date)
	mdkey := p.store.ManifestKey(p.date)

	isCompleted := false
	req := &s3.ListObjectsV2Input{
		Bucket: bucket,
		Prefix: aws.String(prefix),
	}
	s3err := p.store.S3.ListObjectsV2Pages(req, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		if p.isAborted() {
			return false
		}

		del := &s3.DeleteObjectsInput{
			Bucket: bucket,
			Delete: &s3.Delete{Quiet: aws.Bool(true)},
		}
		for _, value := range page.Contents {
			if aws.StringValue(value.Key) == mdkey {
				continue // manifest goes last
			}
			del.Delete.Objects = append(del.Delete.Objects, &s3.ObjectIdentifier{Key: value.Key})
		}
		if len(del.Delete.Objects) > 0 {
			resp, rerr := p.store.S3.DeleteObjects(del)
			if rerr != nil {
				err = rerr
				return false
			}
			if errs := resp.Errors; len(errs) > 0 {
				err = fmt.Errorf("failed to delete key %q: %v",
					aws.StringValue(errs[0].Key),
					aws.StringValue(errs[0].Message))
				return false
			}
			atomic.AddInt64(&p.delcount, int64(len(del.Delete.Objects)))
		}
		if lastPage {
			isCompleted = true
		}
		return !p.isAborted()
	})

	if s3err != nil {
		return s3err
	}

	if err == nil && isCompleted {
		del := &s3.DeleteObjectsInput{
			Bucket: bucket,
			Delete: &s3.Delete{
				Quiet:   aws.Bool(true),
				Objects: []*s3.ObjectIdentifier{{Key: aws.String(mdkey)}},
			},
		}
		resp, rerr := p.store.S3.DeleteObjects(del)
		if rerr != nil {
			return rerr
		}
		if errs := resp.Errors; len(errs) > 0 {
			return fmt.Errorf("failed to delete key %q: %v",
				aws.StringValue(errs[0].Key),
				aws.StringValue(errs[0].Message))
		}
		atomic.AddInt64(&p.delcount, 1)
	}

	return err
}

func (p *Pruner) isAborted() bool {
	return atomic.LoadInt64(&p.abort) != 0
}

// ObjectCount estimates the number of objects a prune will remove.
func (p *Pruner) ObjectCount() (int64, error) {
	var count int64
	prefix := fmt.Sprintf("%s/%s/", p.store.Prefix, p.date)
	req := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.store.Bucket),
		Prefix: aws.String(prefix),
	}
	err := p.store.S3.ListObjectsV2Pages(req, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		count += int64(len(page.Contents))
		return true
	})
	return count, err
}

// ParseBackupDate validates a user-supplied backup date selector.
func ParseBackupDate(date string) error {
	if date == "latest" || backupDateRe.MatchString(strings.TrimSpace(date)) {
		return nil
	}
	return fmt.Errorf("invalid backup date %q: expected YYYY-MM-DD or \"latest\"", date)
}
