package hasher

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

type countingReader struct {
	r       io.ReaderAt
	maxRead int
}

func (c *countingReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) > c.maxRead {
		c.maxRead = len(p)
	}
	return c.r.ReadAt(p, off)
}

type failingReader struct {
	data   []byte
	failAt int64
}

func (f *failingReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.failAt {
		return 0, errors.New("disk on fire")
	}
	return bytes.NewReader(f.data).ReadAt(p, off)
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}

func TestHash_MatchesOneShotDigest(t *testing.T) {
	data := payload(10*1024 + 7)

	md5Sum := md5.Sum(data)
	shaSum := sha256.Sum256(data)
	b2Sum := blake2b.Sum256(data)

	tests := []struct {
		algorithm string
		want      string
	}{
		{MD5, hex.EncodeToString(md5Sum[:])},
		{SHA256, hex.EncodeToString(shaSum[:])},
		{BLAKE2b, hex.EncodeToString(b2Sum[:])},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			h, err := New(tt.algorithm, 1024)
			require.NoError(t, err)

			got, err := h.Hash(context.Background(), bytes.NewReader(data), int64(len(data)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHash_ReadsInWindows(t *testing.T) {
	data := payload(5000)
	cr := &countingReader{r: bytes.NewReader(data)}

	h, err := New(MD5, 1000)
	require.NoError(t, err)

	_, err = h.Hash(context.Background(), cr, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 1000, cr.maxRead)
}

func TestHash_ReadFailure(t *testing.T) {
	data := payload(4096)
	h, err := New(MD5, 1024)
	require.NoError(t, err)

	got, err := h.Hash(context.Background(), &failingReader{data: data, failAt: 2048}, int64(len(data)))
	require.ErrorIs(t, err, common.ErrSourceReadFailed)
	assert.Empty(t, got)
}

func TestHash_ShortSource(t *testing.T) {
	h, err := New(MD5, 1024)
	require.NoError(t, err)

	// declared size exceeds what the reader holds
	_, err = h.Hash(context.Background(), bytes.NewReader(payload(100)), 200)
	require.ErrorIs(t, err, common.ErrSourceReadFailed)
}

func TestHash_ContextCanceled(t *testing.T) {
	h, err := New(MD5, 16)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.Hash(ctx, bytes.NewReader(payload(64)), 64)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New("crc32", 0)
	require.Error(t, err)

	h, err := New("", 0)
	require.NoError(t, err)
	assert.Equal(t, common.DefaultWindowSize, h.window)
}
