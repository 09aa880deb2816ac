package transfer

import "github.com/dmitrijs2005/uploadkeeper/internal/models"

// ChunkCount is ceil(size / chunkSize).
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// PlanChunks partitions [0, size) into chunkSize ranges; the last one may be
// shorter.
func PlanChunks(size, chunkSize int64) []models.Chunk {
	n := ChunkCount(size, chunkSize)
	plan := make([]models.Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		end := min(start+chunkSize, size)
		plan = append(plan, models.Chunk{Index: i, StartOffset: start, EndOffset: end, Size: end - start})
	}
	return plan
}

// uniformChunkSize returns the chunk size of plan when plan is exactly what
// PlanChunks would produce for some chunk size, and 0 otherwise.
func uniformChunkSize(plan []models.Chunk, size int64) int64 {
	if err := models.ValidatePlan(plan, size); err != nil {
		return 0
	}
	var cs int64
	for _, c := range plan {
		if c.Index == 0 {
			cs = c.Size
		}
	}
	if ChunkCount(size, cs) != len(plan) {
		return 0
	}
	for _, c := range plan {
		if c.StartOffset != int64(c.Index)*cs {
			return 0
		}
	}
	return cs
}
