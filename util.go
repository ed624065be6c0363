// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
)

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
	tib = 1 << 40
)

func fmtBytes(bytes int64) string {
	switch {
	case bytes < kib:
		return fmt.Sprintf("%d bytes", bytes)
	case bytes < mib:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kib)
	case bytes < gib:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mib)
	case bytes < tib:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gib)
	default:
		return fmt.Sprintf("%.1f TB", float64(bytes)/tib)
	}
}

func fail(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(100)
}

type awsServices struct {
	dyn *dynamodb.DynamoDB
	s3  *s3.S3
}

func initAWS() *awsServices {
	sess := session.Must(session.NewSession())
	return &awsServices{
		dyn: dynamodb.New(sess),
		s3:  s3.New(sess),
	}
}

// parseTables accepts either a JSON array (the DYNAMODB_TABLES convention)
// or a comma separated list of table names.
func parseTables(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var tables []string
		if err := json.Unmarshal([]byte(raw), &tables); err != nil {
			return nil, fmt.Errorf("invalid tables JSON: %v", err)
		}
		return tables, nil
	}
	var tables []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tables = append(tables, t)
		}
	}
	return tables, nil
}

// printReport renders a run report as indented JSON on stdout.
func printReport(report interface{}) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fail("Failed to render report: %v", err)
	}
	fmt.Println(string(data))
}

// exitCodeFor maps the report status code convention to a process exit
// code: 200 exits 0, 207 exits 2, 500 exits 1.
func exitCodeFor(statusCode int) int {
	switch statusCode {
	case 200:
		return 0
	case 207:
		return 2
	default:
		return 1
	}
}
