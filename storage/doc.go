// Package storage defines the storage adapter the index is driven through.
//
// The host supplies an [Adapter]; the index never touches the filesystem directly.
// Three implementations are provided:
//
//   - [LocalStore]: production implementation on the local filesystem
//     (temp file + fsync + rename, advisory root lock)
//   - [MemoryStore]: in-memory test double
//   - [FaultyStore]: decorator that injects crashes, partial writes, failed renames
//     and read corruption into any other Adapter
//
// # Paths
//
// Paths are slash-separated and relative to the adapter root. Leading slashes and
// "." elements are ignored, so "/a/./b" and "a/b" name the same file.
//
// # Atomicity
//
// WriteBinaryAtomic, WriteTextAtomic and RenameAtomic guarantee that no reader ever
// observes a partially written result under the final name.
package storage
