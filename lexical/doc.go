// Package lexical defines the interface for lexical (keyword) search indexes.
//
// Lexical indexes enable hybrid search by combining keyword matching with
// vector similarity using Reciprocal Rank Fusion (RRF).
//
// Documents are chunks: a document id is the chunk's path and chunk id joined
// by DocID, so lexical hits and vector hits share the same fusion key.
//
// # Built-in Implementation
//
// The bm25 subpackage provides a BM25-based lexical index:
//
//	idx := bm25.New(bm25.DefaultOptions())
//	_ = idx.Add(lexical.Document{Path: "notes/a.md", ChunkID: "3f2a...", Content: "the cat sat"})
//	results, _ := idx.Search("cat", 10)
//
// # Custom Implementations
//
// Implement the Index interface for custom lexical search.
package lexical
