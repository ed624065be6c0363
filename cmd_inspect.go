// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package main

import (
	"os"
	"text/template"

	"github.com/gwatts/dynsnap/dynsnap"
	cli "github.com/jawher/mow.cli"
)

var manifestTmpl = template.Must(template.New("manifest").Funcs(template.FuncMap{
	"fmtBytes": fmtBytes,
}).Parse(`
Backup Date .........: {{ .BackupDate }}
Environment .........: {{ .Environment }}
Backup Type .........: {{ .BackupType }}
Created At ..........: {{ .CreatedAt }}
S3 Bucket ...........: {{ .S3Bucket }}
Overall Status ......: {{ .OverallStatus }}
Total Exports .......: {{ .TotalExports }}
Successful Exports ..: {{ .SuccessfulExports }}
Failed Exports ......: {{ .FailedExports }}
Total Items .........: {{ .TotalItemsExported }}
Total Size ..........: {{ fmtBytes .TotalSizeBytes }}

Tables:
{{ range .Tables }}  {{ printf "%-40s" .TableName }} {{ printf "%-10s" .Status }} items={{ .ItemCount }} size={{ fmtBytes .SizeBytes }}{{ if .Error }} error={{ .Error }}{{ end }}
{{ end }}`))

func registerInspectCommand(app *cli.Cli) {
	app.Command("inspect", "Display the manifest for a backup run in S3", func(cmd *cli.Cmd) {
		action := &inspector{
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
				Name:   "d backup-date",
				Value:  "latest",
				Desc:   `Backup date to inspect (YYYY-MM-DD), or "latest"`,
				EnvVar: "BACKUP_DATE",
			}),
			asJSON: cmd.BoolOpt("j json", false,
				"Emit the raw manifest as JSON instead of formatted text"),
		}
		cmd.Spec = "--bucket [--prefix] [--backup-date] [--json]"
		cmd.Action = action.run
	})
}

type inspector struct {
	// options
	bucket *string
	prefix *string
	date   *string
	asJSON *bool
}

func (in *inspector) run() {
	if err := dynsnap.ParseBackupDate(*in.date); err != nil {
		fail("Invalid backup date: %v", err)
	}

	store := &dynsnap.Store{
		S3:     initAWS().s3,
		Bucket: *in.bucket,
		Prefix: *in.prefix,
	}

	date := *in.date
	if date == "" || date == "latest" {
		var err error
		if date, err = store.LatestBackupDate(); err != nil {
			fail("Failed to locate latest backup: %v", err)
		}
	}

	m, err := store.GetManifest(date)
	if err != nil {
		fail("Failed to read manifest from S3: %v", err)
	}

	if *in.asJSON {
		printReport(m)
		return
	}
	manifestTmpl.Execute(os.Stdout, m)
}
