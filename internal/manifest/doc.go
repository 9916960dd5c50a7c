// Package manifest persists the logical state of an index: the embedding model
// descriptor, the ordered list of published segments and aggregate stats.
//
// # Format
//
//	{
//	  "version": 1,
//	  "created_at": "2024-01-01T00:00:00Z",
//	  "model": {"id": "...", "dims": 384, "dtype": "f32"},
//	  "segments": [{"id": "...", "rows": 2, "bin": "segments/<id>.bin", "meta": "meta/<id>.jsonl", "crc": 123}],
//	  "stats": {"rows": 2, "segments": 1}
//	}
//
// Segment paths are relative to the index root.
//
// # Atomic Protocol
//
// Save swaps manifests in two renames:
//
//  1. Write the new manifest to tmp/manifest.tmp
//  2. Rename manifest.json to manifest.prev.json (if present)
//  3. Rename tmp/manifest.tmp to manifest.json
//
// A crash between the renames leaves manifest.prev.json as the only manifest,
// which Load falls back to. Load never returns a partially written manifest.
//
// # Immutability
//
// A Manifest value is never mutated once saved; [Manifest.WithSegment] returns a
// new value.
package manifest
