// Package semindex provides an embedded, crash-safe hybrid search index for
// a tree of text documents.
//
// Documents are chunked, embedded and published as immutable vector
// segments with a three-stage commit (stage, publish, swap manifest), while a
// BM25 index covers the same chunks lexically. Queries fuse both legs with
// reciprocal rank fusion.
//
// # Quick Start
//
//	ctx := context.Background()
//	docs, _ := storage.NewLocalStore("./vault")
//	idx, _ := semindex.Open(ctx, docs)
//	defer idx.Close()
//
//	idx.Reconcile(ctx) // enqueue everything that changed
//	idx.WaitIdle(ctx)
//
//	results, _ := idx.Search(ctx, "how do cats sleep", semindex.WithK(5))
//	for _, r := range results {
//	    fmt.Println(r.Path, r.Score, r.Snippet)
//	}
//
// # Embeddings
//
// Without configuration the index embeds with a deterministic hashing
// backend. Production setups plug in a real model:
//
//	backend, _ := openai.New(openai.Config{APIKey: key})
//	idx, _ := semindex.Open(ctx, docs,
//	    semindex.WithEmbedder(backend, openai.DefaultModel, 1536))
//
// # Durability Model
//
// Every indexing job is journaled in a write-ahead log before it runs. A
// crash at any point leaves the manifest either unchanged or fully updated;
// unfinished jobs resume on the next Open. Verify reports missing files,
// checksum mismatches and orphans without repairing anything.
//
// # Index Layout
//
//	manifest.json        current state
//	manifest.prev.json   previous state, used when manifest.json is unreadable
//	ledger.json          last indexed stat and hash per document
//	wal/tasks.jsonl      job journal
//	segments/<id>.bin    vectors
//	meta/<id>.jsonl      one metadata line per row
//	bm25.json            lexical index snapshot
//	tmp/                 staging area
package semindex
