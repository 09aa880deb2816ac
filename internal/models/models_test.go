package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePlan(t *testing.T) {
	good := []Chunk{
		{Index: 0, StartOffset: 0, EndOffset: 4, Size: 4},
		{Index: 1, StartOffset: 4, EndOffset: 8, Size: 4},
		{Index: 2, StartOffset: 8, EndOffset: 10, Size: 2},
	}
	require.NoError(t, ValidatePlan(good, 10))

	// order of the slice does not matter, indices do
	require.NoError(t, ValidatePlan([]Chunk{good[2], good[0], good[1]}, 10))

	tests := []struct {
		name   string
		chunks []Chunk
		size   int64
	}{
		{"empty", nil, 10},
		{"zero size", good, 0},
		{"short", good[:2], 10},
		{"gap", []Chunk{good[0], {Index: 1, StartOffset: 5, EndOffset: 10, Size: 5}}, 10},
		{"overlap", []Chunk{good[0], {Index: 1, StartOffset: 3, EndOffset: 10, Size: 7}}, 10},
		{"bad size", []Chunk{{Index: 0, StartOffset: 0, EndOffset: 10, Size: 9}}, 10},
		{"missing index", []Chunk{good[0], {Index: 2, StartOffset: 4, EndOffset: 10, Size: 6}}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, ValidatePlan(tt.chunks, tt.size))
		})
	}
}

func TestEndpointResolution_Valid(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &EndpointResolution{BaseURL: "http://nas:8080/api", ResolvedAt: now, TTL: 10 * time.Minute}

	assert.True(t, e.Valid(now))
	assert.True(t, e.Valid(now.Add(9*time.Minute)))
	assert.False(t, e.Valid(now.Add(10*time.Minute)))

	var nilRes *EndpointResolution
	assert.False(t, nilRes.Valid(now))
	assert.False(t, (&EndpointResolution{ResolvedAt: now, TTL: time.Hour}).Valid(now))
}

func TestResumeRecord_CloneIsDeep(t *testing.T) {
	r := &ResumeRecord{ContentHash: "h", UploadedChunks: []int{0, 1}}
	c := r.Clone()
	c.UploadedChunks[0] = 9

	assert.Equal(t, []int{0, 1}, r.UploadedChunks)
	assert.Nil(t, (*ResumeRecord)(nil).Clone())
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusPaused.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusUploading.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, Status("bogus").Valid())
	assert.True(t, StatusPending.Valid())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 80.0, Percent(4, 5))
	assert.Equal(t, 100.0, Percent(5, 5))
}
