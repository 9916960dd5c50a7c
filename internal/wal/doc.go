// Package wal implements the job-state journal of the indexing pipeline.
//
// The log is a JSON-lines file (wal/tasks.jsonl). Every state transition of a
// job is a new line; several lines share a job id. The authoritative state of a
// job is its line with the greatest enq_at, ties going to the later line.
//
// # Durability
//
// Append rewrites the whole file through an atomic write instead of appending in
// place. A crash therefore never leaves a torn line under the final name. Lines
// that are malformed anyway (foreign writers, corruption) are skipped on read.
//
// # Compaction
//
// Compact folds the log to one line per job and drops done/failed jobs older
// than the retention window. Pending and started jobs are never dropped.
package wal
