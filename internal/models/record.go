package models

import (
	"slices"
	"time"
)

// ResumeRecord is the persisted projection of a transfer, one per content
// hash.
type ResumeRecord struct {
	SourceRef      string    `json:"sourceRef"`
	FileSize       int64     `json:"fileSize"`
	ChunkSize      int64     `json:"chunkSize"`
	ChunkCount     int       `json:"chunkCount"`
	ContentHash    string    `json:"contentHash"`
	UploadedChunks []int     `json:"uploadedChunks"`
	Status         Status    `json:"status"`
	Progress       float64   `json:"progress"`
	RemoteFileID   string    `json:"remoteFileId"`
	LastUpdated    time.Time `json:"lastUpdated"`
	ErrorCount     int       `json:"errorCount"`
}

// Clone returns a deep copy of r.
func (r *ResumeRecord) Clone() *ResumeRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.UploadedChunks = slices.Clone(r.UploadedChunks)
	return &c
}

// Percent computes upload progress from the uploaded count, 0..100.
func Percent(uploaded, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(uploaded) * 100 / float64(total)
}
