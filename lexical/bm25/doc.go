// Package bm25 provides a BM25-based lexical search index.
//
// BM25 (Best Matching 25) is a ranking function used for keyword search.
// This implementation keeps an in-memory inverted index that is updated
// incrementally on add and remove.
//
// # Usage
//
//	idx := bm25.New(bm25.DefaultOptions())
//	_ = idx.Add(lexical.Document{Path: "a.md", ChunkID: "c1", Content: "the cat sat"})
//	results, _ := idx.Search("cat", 20)
//
// # Parameters
//
// Uses standard BM25 parameters k1=1.2, b=0.75 with
// idf = ln((N-df+0.5)/(df+0.5)) floored at IDFFloor, so a term that occurs
// in half the corpus or more still contributes a small positive weight.
//
// # Tokenization
//
// Text is lowercased, non-word characters become spaces, tokens shorter
// than two characters and stop-words are dropped, and a fixed suffix table
// is applied when stemming is enabled.
//
// # Thread Safety
//
// The index is safe for concurrent reads and writes.
package bm25
