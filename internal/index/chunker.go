// Package index implements the document indexing pipeline: chunking,
// batched embedding, and upserts into the sparse and dense stores.
package index

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/searchd/internal/store"
)

// Chunker splits document text into overlapping word windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. size is the window in words; overlap is
// the number of words shared between adjacent chunks and must be smaller
// than size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d", overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits a document into chunks. Chunk IDs are deterministic,
// derived from the document ID and the chunk ordinal, so re-indexing the
// same document overwrites its previous chunks instead of accumulating
// duplicates. The document metadata is copied onto every chunk, with
// document_id added for filter-based cascade deletion.
func (c *Chunker) Chunk(doc Document) []store.Chunk {
	words := strings.Fields(doc.Text)
	if len(words) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []store.Chunk
	for start, ordinal := 0, 0; start < len(words); start, ordinal = start+step, ordinal+1 {
		end := start + c.size
		if end > len(words) {
			end = len(words)
		}

		metadata := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		metadata["document_id"] = doc.ID

		chunks = append(chunks, store.Chunk{
			ID:         ChunkID(doc.ID, ordinal),
			DocumentID: doc.ID,
			Text:       strings.Join(words[start:end], " "),
			Metadata:   metadata,
		})

		if end == len(words) {
			break
		}
	}
	return chunks
}

// ChunkID derives the deterministic ID of a document's nth chunk.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s-%04d", docID, ordinal)
}
