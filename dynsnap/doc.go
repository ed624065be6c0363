// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

/*
Package dynsnap backs up and restores fleets of DynamoDB tables using the
service's native point-in-time export mechanism with S3 as the durable
backup medium.

A Backuper starts an export for every configured table, polls the exports
to completion under a bounded time budget and writes a manifest describing
the outcome of each table to S3.  A Restorer locates a manifest by date (or
picks the most recent one), streams the exported record files back out of
S3 and rehydrates the tables through a bounded pool of batch writers, with
support for dry runs, partial table selection and clearing existing data.

Per-table failures are always isolated: a failed export or restore of one
table never prevents the remaining tables from being processed, and every
run produces a structured report of what happened to each table.
*/
package dynsnap
