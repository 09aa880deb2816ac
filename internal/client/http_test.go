package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	url         string
	err         error
	invalidated atomic.Int32
}

func (s *staticResolver) Resolve(ctx context.Context) (string, error) { return s.url, s.err }
func (s *staticResolver) Invalidate()                                 { s.invalidated.Add(1) }

func newTestClient(t *testing.T, h http.Handler) (*HTTPClient, *staticResolver) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	r := &staticResolver{url: ts.URL + "/api"}
	return NewHTTPClient(r, 5*time.Second), r
}

func TestRegisterMetadata_Envelope(t *testing.T) {
	var got metadataRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/submit_metadata", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"status":1,"code":"0","message":"ok","data":{
			"id": 42,
			"chunks": [
				{"index":0,"start_offset":0,"end_offset":3,"chunk_size":4},
				{"index":1,"start_offset":4,"end_offset":5,"chunk_size":2}
			],
			"total_chunks": 2}}`)
	}))

	reg, err := c.RegisterMetadata(context.Background(), transfer.Metadata{
		Filename: "a.jpg", TotalSize: 6, Description: "holiday", Checksum: "abc123",
	})
	require.NoError(t, err)

	assert.Equal(t, metadataRequest{Filename: "a.jpg", TotalSize: 6, Description: "holiday", Checksum: "abc123"}, got)
	assert.Equal(t, "42", reg.FileID)
	assert.Equal(t, []models.Chunk{
		{Index: 0, StartOffset: 0, EndOffset: 4, Size: 4},
		{Index: 1, StartOffset: 4, EndOffset: 6, Size: 2},
	}, reg.Chunks)
	require.NoError(t, models.ValidatePlan(reg.Chunks, 6))
}

func TestRegisterMetadata_Bare(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"f-1","chunks":[],"total_chunks":0}`)
	}))

	reg, err := c.RegisterMetadata(context.Background(), transfer.Metadata{Filename: "x", TotalSize: 1})
	require.NoError(t, err)
	assert.Equal(t, "f-1", reg.FileID)
	assert.Empty(t, reg.Chunks)
}

func TestRegisterMetadata_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		want        error
		invalidates bool
	}{
		{"failed envelope", http.StatusOK, `{"status":0,"code":"500","message":"disk full"}`, ErrRejected, false},
		{"missing id", http.StatusOK, `{"chunks":[]}`, ErrRejected, false},
		{"garbage", http.StatusOK, `not json`, ErrRejected, false},
		{"bad request", http.StatusBadRequest, `nope`, ErrRejected, false},
		{"server error", http.StatusBadGateway, ``, ErrUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := c.RegisterMetadata(context.Background(), transfer.Metadata{Filename: "x", TotalSize: 1})
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.invalidates, r.invalidated.Load() > 0)
		})
	}
}

func TestUploadChunk_WireFormat(t *testing.T) {
	data := []byte("0123456789")
	var gotHeaders http.Header
	var gotBody []byte

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/upload", r.URL.Path)
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"status":1,"code":"0","message":"chunk stored"}`)
	}))

	chunk := models.Chunk{Index: 1, StartOffset: 4, EndOffset: 8, Size: 4}
	err := c.UploadChunk(context.Background(), "f-9", chunk, int64(len(data)), bytes.NewReader(data[4:8]))
	require.NoError(t, err)

	assert.Equal(t, "f-9", gotHeaders.Get("X-File-ID"))
	assert.Equal(t, "4", gotHeaders.Get("X-Start-Offset"))
	assert.Equal(t, "bytes 4-7/10", gotHeaders.Get("Content-Range"))
	assert.Equal(t, []byte("4567"), gotBody)
}

func TestUploadChunk_EmptySuccessBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	chunk := models.Chunk{Index: 0, StartOffset: 0, EndOffset: 1, Size: 1}
	require.NoError(t, c.UploadChunk(context.Background(), "f", chunk, 1, bytes.NewReader([]byte("x"))))
}

func TestUploadChunk_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	r := &staticResolver{url: ts.URL + "/api"}
	c := NewHTTPClient(r, time.Second)

	chunk := models.Chunk{Index: 0, StartOffset: 0, EndOffset: 1, Size: 1}
	err := c.UploadChunk(context.Background(), "f", chunk, 1, bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, int32(1), r.invalidated.Load())
}

func TestResolverErrorIsUnavailable(t *testing.T) {
	r := &staticResolver{err: errors.New("no reachable candidate")}
	c := NewHTTPClient(r, time.Second)

	require.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
	_, err := c.RegisterMetadata(context.Background(), transfer.Metadata{})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/hello" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "hello")
	}))
	require.NoError(t, c.Ping(context.Background()))
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "bytes 0-2097151/10485760",
		ContentRange(models.Chunk{StartOffset: 0, EndOffset: 2 << 20, Size: 2 << 20}, 10<<20))
}
