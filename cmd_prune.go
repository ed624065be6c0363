// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/Bowery/prompt"
	"github.com/cheggaaa/pb"
	"github.com/gwatts/dynsnap/dynsnap"
	cli "github.com/jawher/mow.cli"
)

func registerPruneCommand(app *cli.Cli) {
	app.Command("prune", "Delete a backup run from S3", func(cmd *cli.Cmd) {
		action := &pruner{
			bucket: cmd.String(cli.StringOpt{
				Name:   "b bucket",
				Value:  "",
				Desc:   "S3 bucket holding the backups",
				EnvVar: "BACKUP_BUCKET",
			}),
			prefix: cmd.String(cli.StringOpt{
				Name:   "prefix",
				Value:  "exports",
				Desc:   "Key prefix within the bucket for backup runs",
				EnvVar: "EXPORT_PREFIX",
			}),
			date: cmd.String(cli.StringOpt{
				Name:  "d backup-date",
				Value: "",
				Desc:  "Backup date to delete (YYYY-MM-DD)",
			}),
			force: cmd.BoolOpt("force", false,
				"Set to true to disable the confirmation prompt before deleting"),
		}
		cmd.Spec = "--bucket --backup-date [--prefix] [--force]"
		cmd.Action = actionRunner(cmd, action)
	})
}

type pruner struct {
	p           *dynsnap.Pruner
	objectCount int64

	// options
	bucket *string
	prefix *string
	date   *string
	force  *bool
}

func (p *pruner) init() error {
	if err := dynsnap.ParseBackupDate(*p.date); err != nil {
		return err
	}
	if *p.date == "latest" {
		return errors.New("prune requires an explicit backup date")
	}

	store := &dynsnap.Store{
		S3:     initAWS().s3,
		Bucket: *p.bucket,
		Prefix: *p.prefix,
	}
	pr, err := dynsnap.NewPruner(store, *p.date)
	if err != nil {
		return err
	}

	if !*p.force {
		m := pr.Manifest()
		fmt.Printf("Delete backup %s (%d tables, %s) from s3://%s/%s/%s/\n\n",
			m.BackupDate, m.TotalExports, fmtBytes(m.TotalSizeBytes),
			*p.bucket, *p.prefix, *p.date)
		ok, err := prompt.Ask("Are you sure you wish to delete the above backup")
		if err != nil {
			return fmt.Errorf("Could not prompt for confirmation (use --force to override): %v", err)
		}
		if !ok {
			return errors.New("User rejected delete")
		}
	}

	p.p = pr
	p.objectCount, err = pr.ObjectCount()
	return err
}

func (p *pruner) start(infoWriter io.Writer) (done chan error, err error) {
	fmt.Fprintf(infoWriter, "Beginning prune of s3://%s/%s/%s/ objects=%d\n",
		*p.bucket, *p.prefix, *p.date, p.objectCount)

	done = make(chan error, 1)
	go func() {
		done <- p.p.Prune()
	}()
	return done, nil
}

func (p *pruner) newProgressBar() *pb.ProgressBar {
	return pb.New64(p.objectCount)
}

func (p *pruner) updateProgress(bar *pb.ProgressBar) {
	bar.Set64(p.p.Completed())
}

func (p *pruner) abort() {
	p.p.Abort()
}

func (p *pruner) finish(w io.Writer) int {
	fmt.Fprintf(w, "Deleted %d objects from s3://%s/%s/%s/\n",
		p.p.Completed(), *p.bucket, *p.prefix, *p.date)
	return 0
}
