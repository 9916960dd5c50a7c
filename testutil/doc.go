// Package testutil provides helpers for semindex tests and benchmarks.
//
// It generates reproducible vectors and synthetic markdown vaults and
// computes exact cosine neighbors to check search results against.
//
// # Random Vectors
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UnitVectors(100, 16)
//
// # Ground Truth
//
//	exact := testutil.ExactTopK(query, vecs, 10)
//	recall := testutil.ComputeRecall(got, exact)
//
// # Synthetic Vaults
//
//	for p, text := range rng.Vault(50, "notes") { ... }
package testutil
