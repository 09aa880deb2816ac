package models

import (
	"fmt"
	"sort"
)

// Chunk is a contiguous byte range [StartOffset, EndOffset) of a source.
type Chunk struct {
	Index       int   `json:"index"`
	StartOffset int64 `json:"startOffset"`
	EndOffset   int64 `json:"endOffset"`
	Size        int64 `json:"size"`
}

// ValidatePlan checks that chunks partition [0, size) in ascending index
// order with no gap or overlap.
func ValidatePlan(chunks []Chunk, size int64) error {
	if size <= 0 {
		return fmt.Errorf("invalid size %d", size)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("empty chunk plan for %d bytes", size)
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var next int64
	for i, c := range sorted {
		if c.Index != i {
			return fmt.Errorf("chunk index %d out of sequence, want %d", c.Index, i)
		}
		if c.StartOffset != next {
			return fmt.Errorf("chunk %d starts at %d, want %d", c.Index, c.StartOffset, next)
		}
		if c.EndOffset <= c.StartOffset || c.Size != c.EndOffset-c.StartOffset {
			return fmt.Errorf("chunk %d has inconsistent range [%d, %d) size %d", c.Index, c.StartOffset, c.EndOffset, c.Size)
		}
		next = c.EndOffset
	}
	if next != size {
		return fmt.Errorf("chunk plan covers %d bytes, want %d", next, size)
	}
	return nil
}
