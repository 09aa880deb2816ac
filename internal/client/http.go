package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/transfer"
)

// BaseURLResolver yields the API base URL and can be told it went stale.
type BaseURLResolver interface {
	Resolve(ctx context.Context) (string, error)
	Invalidate()
}

type HTTPClient struct {
	resolver BaseURLResolver
	http     *http.Client
}

// NewHTTPClient bounds every request by timeout.
func NewHTTPClient(resolver BaseURLResolver, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		resolver: resolver,
		http:     &http.Client{Timeout: timeout},
	}
}

type metadataRequest struct {
	Filename    string `json:"filename"`
	TotalSize   int64  `json:"total_size"`
	Description string `json:"description"`
	Checksum    string `json:"checksum"`
}

type wireChunk struct {
	Index       int   `json:"index"`
	StartOffset int64 `json:"start_offset"`
	EndOffset   int64 `json:"end_offset"`
	ChunkSize   int64 `json:"chunk_size"`
}

type metadataResponse struct {
	ID          fileID      `json:"id"`
	Chunks      []wireChunk `json:"chunks"`
	TotalChunks int         `json:"total_chunks"`
}

// fileID accepts the id as a JSON string or number.
type fileID string

func (f *fileID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = fileID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("file id: %w", err)
	}
	*f = fileID(n.String())
	return nil
}

type envelope struct {
	Status  *int            `json:"status"`
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// unwrap returns the payload of an enveloped response, or body unchanged
// when it is not an envelope. A failed envelope yields ErrRejected.
func unwrap(body []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Status == nil {
		return body, nil
	}
	if *env.Status != 1 {
		return nil, fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}
	return env.Data, nil
}

func (c *HTTPClient) baseURL(ctx context.Context) (string, error) {
	base, err := c.resolver.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return base, nil
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		c.resolver.Invalidate()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.resolver.Invalidate()
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.resolver.Invalidate()
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, strings.TrimSpace(string(body)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Ping checks that the resolved service answers /hello.
func (c *HTTPClient) Ping(ctx context.Context) error {
	base, err := c.baseURL(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+common.HelloPath, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *HTTPClient) RegisterMetadata(ctx context.Context, meta transfer.Metadata) (*transfer.Registration, error) {
	base, err := c.baseURL(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(metadataRequest{
		Filename:    meta.Filename,
		TotalSize:   meta.TotalSize,
		Description: meta.Description,
		Checksum:    meta.Checksum,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+common.SubmitMetadataPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	data, err := unwrap(body)
	if err != nil {
		return nil, err
	}

	var resp metadataResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode metadata response: %w", ErrRejected, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: metadata response without id", ErrRejected)
	}

	reg := &transfer.Registration{FileID: string(resp.ID)}
	for _, wc := range resp.Chunks {
		reg.Chunks = append(reg.Chunks, models.Chunk{
			Index:       wc.Index,
			StartOffset: wc.StartOffset,
			EndOffset:   wc.EndOffset + 1,
			Size:        wc.EndOffset - wc.StartOffset + 1,
		})
	}
	return reg, nil
}

func (c *HTTPClient) UploadChunk(ctx context.Context, fileID string, chunk models.Chunk, total int64, body io.Reader) error {
	base, err := c.baseURL(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+common.UploadPath, body)
	if err != nil {
		return err
	}
	req.ContentLength = chunk.Size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(common.FileIDHeaderName, fileID)
	req.Header.Set(common.StartOffsetHeaderName, strconv.FormatInt(chunk.StartOffset, 10))
	req.Header.Set(common.ContentRangeHeader, ContentRange(chunk, total))

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(resp)) == 0 {
		return nil
	}
	if _, err := unwrap(resp); err != nil {
		return err
	}
	return nil
}

// ContentRange formats the inclusive byte range of chunk.
func ContentRange(chunk models.Chunk, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", chunk.StartOffset, chunk.EndOffset-1, total)
}

// IsUnavailable reports whether err means the service could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
