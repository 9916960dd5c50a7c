package lexical

import "strings"

// Document is one chunk of text to index.
type Document struct {
	Path    string
	ChunkID string
	Content string
}

// ID returns the document id used by the index.
func (d Document) ID() string { return DocID(d.Path, d.ChunkID) }

// Result is a single lexical hit.
type Result struct {
	ID      string
	Path    string
	ChunkID string
	Score   float64
	// Matches lists the query terms found in the document.
	Matches []string
}

// Index is the interface for a lexical search index.
type Index interface {
	// Add indexes a document, replacing any document with the same id.
	Add(doc Document) error
	// Remove deletes a document by id. Unknown ids are ignored.
	Remove(id string) error
	// RemovePath deletes every document of a path and returns how many were removed.
	RemovePath(path string) int
	// Search returns at most k documents with a positive score, best first.
	Search(query string, k int) ([]Result, error)
	// Len returns the number of indexed documents.
	Len() int
}

const idSep = "#"

// DocID joins a path and a chunk id. An empty chunk id yields the bare path.
func DocID(path, chunkID string) string {
	if chunkID == "" {
		return path
	}
	return path + idSep + chunkID
}

// SplitDocID is the inverse of DocID. The chunk id never contains the
// separator, so the last one wins.
func SplitDocID(id string) (path, chunkID string) {
	i := strings.LastIndex(id, idSep)
	if i < 0 {
		return id, ""
	}
	return id[:i], id[i+1:]
}
