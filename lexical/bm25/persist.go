package bm25

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hupe1980/semindex/internal/errs"
)

// FileName is the name of the persisted index under an index root.
const FileName = "bm25.json"

const formatVersion = 1

type snapshot struct {
	Version      int            `json:"version"`
	Documents    []snapshotDoc  `json:"documents"`
	DocFreqs     map[string]int `json:"document_frequencies"`
	AvgDocLength float64        `json:"avg_doc_length"`
}

type snapshotDoc struct {
	ID      string         `json:"id"`
	Path    string         `json:"path"`
	ChunkID string         `json:"chunk_id,omitempty"`
	Length  int            `json:"length"`
	Terms   map[string]int `json:"terms"`
}

// MarshalJSON exports the full posting structure.
func (idx *MemoryIndex) MarshalJSON() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := snapshot{
		Version:      formatVersion,
		Documents:    make([]snapshotDoc, 0, len(idx.docs)),
		DocFreqs:     make(map[string]int, len(idx.inverted)),
		AvgDocLength: idx.avgDocLen,
	}
	for id, d := range idx.docs {
		s.Documents = append(s.Documents, snapshotDoc{ID: id, Path: d.path, ChunkID: d.chunkID, Length: d.length, Terms: d.terms})
	}
	slices.SortFunc(s.Documents, func(a, b snapshotDoc) int { return cmp.Compare(a.ID, b.ID) })
	for t, postings := range idx.inverted {
		s.DocFreqs[t] = len(postings)
	}
	return json.Marshal(s)
}

// Unmarshal restores an index exported with MarshalJSON. The postings are
// rebuilt from the documents and cross-checked against the stored document
// frequencies.
func Unmarshal(data []byte, opts Options) (*MemoryIndex, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.CorruptRecord(FileName, 0, err)
	}
	if s.Version != formatVersion {
		return nil, errs.CorruptRecord(FileName, 0, fmt.Errorf("unsupported version %d", s.Version))
	}

	idx := New(opts)
	for _, sd := range s.Documents {
		if sd.ID == "" {
			return nil, errs.CorruptRecord(FileName, 0, fmt.Errorf("document without id"))
		}
		if _, dup := idx.docs[sd.ID]; dup {
			return nil, errs.CorruptRecord(FileName, 0, fmt.Errorf("document %q listed twice", sd.ID))
		}
		terms := sd.Terms
		if terms == nil {
			terms = map[string]int{}
		}
		idx.addLocked(sd.ID, &document{path: sd.Path, chunkID: sd.ChunkID, length: sd.Length, terms: terms})
	}

	if len(s.DocFreqs) != len(idx.inverted) {
		return nil, errs.CorruptRecord(FileName, 0, fmt.Errorf("%d terms listed, %d indexed", len(s.DocFreqs), len(idx.inverted)))
	}
	for t, df := range s.DocFreqs {
		if len(idx.inverted[t]) != df {
			return nil, errs.CorruptRecord(FileName, 0, fmt.Errorf("term %q: document frequency %d, indexed %d", t, df, len(idx.inverted[t])))
		}
	}
	return idx, nil
}
