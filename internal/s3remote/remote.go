// Package s3remote uploads files to an S3 compatible store using multipart
// uploads. One resumable job maps to one multipart upload; chunks are parts.
package s3remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/dmitrijs2005/uploadkeeper/internal/config"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/transfer"
)

// MinPartSize is the smallest part S3 accepts for all but the last part.
const MinPartSize int64 = 5 << 20

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3API is the subset of *s3.Client used by Remote.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
}

type Remote struct {
	api    S3API
	bucket string
	prefix string
}

var (
	_ transfer.Remote    = (*Remote)(nil)
	_ transfer.Finalizer = (*Remote)(nil)
)

func New(api S3API, bucket, prefix string) *Remote {
	return &Remote{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewFromConfig builds an S3 client from the s3 section of the agent config.
// A custom endpoint (MinIO and friends) switches to path-style addressing.
func NewFromConfig(ctx context.Context, cfg config.S3Config) (*Remote, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, cfg.Bucket, cfg.Prefix), nil
}

// Key is the object key for a file: prefix/checksum/filename.
func (r *Remote) Key(meta transfer.Metadata) string {
	return path.Join(r.prefix, meta.Checksum, path.Base(meta.Filename))
}

// PartSize is the part size used for a requested chunk size.
func PartSize(chunkSize int64) int64 {
	return max(chunkSize, MinPartSize)
}

// RegisterMetadata reuses an unfinished multipart upload for the same key or
// starts a new one. The returned plan always uses PartSize.
func (r *Remote) RegisterMetadata(ctx context.Context, meta transfer.Metadata) (*transfer.Registration, error) {
	key := r.Key(meta)

	uploadID, err := r.pendingUpload(ctx, key)
	if err != nil {
		return nil, err
	}

	if uploadID == "" {
		out, err := r.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:   aws.String(r.bucket),
			Key:      aws.String(key),
			Metadata: map[string]string{"checksum": meta.Checksum, "description": meta.Description},
		})
		if err != nil {
			return nil, fmt.Errorf("create multipart upload: %w", err)
		}
		uploadID = aws.ToString(out.UploadId)
	}
	if uploadID == "" {
		return nil, errors.New("create multipart upload: empty upload id")
	}

	return &transfer.Registration{
		FileID: encodeFileID(key, uploadID),
		Chunks: transfer.PlanChunks(meta.TotalSize, PartSize(meta.ChunkSize)),
	}, nil
}

func (r *Remote) pendingUpload(ctx context.Context, key string) (string, error) {
	out, err := r.api.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("list multipart uploads: %w", err)
	}

	var latest *types.MultipartUpload
	for i := range out.Uploads {
		u := &out.Uploads[i]
		if aws.ToString(u.Key) != key {
			continue
		}
		if latest == nil || aws.ToTime(u.Initiated).After(aws.ToTime(latest.Initiated)) {
			latest = u
		}
	}
	if latest == nil {
		return "", nil
	}
	return aws.ToString(latest.UploadId), nil
}

func (r *Remote) UploadChunk(ctx context.Context, fileID string, chunk models.Chunk, total int64, body io.Reader) error {
	key, uploadID, err := decodeFileID(fileID)
	if err != nil {
		return err
	}

	_, err = r.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(chunk.Index + 1)),
		ContentLength: aws.Int64(chunk.Size),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", chunk.Index+1, err)
	}
	return nil
}

// Finalize completes the multipart upload once S3 reports every part.
func (r *Remote) Finalize(ctx context.Context, fileID string, chunkCount int) error {
	key, uploadID, err := decodeFileID(fileID)
	if err != nil {
		return err
	}

	parts, err := r.listParts(ctx, key, uploadID)
	if err != nil {
		return err
	}
	if len(parts) != chunkCount {
		return fmt.Errorf("complete multipart upload: have %d parts, want %d", len(parts), chunkCount)
	}

	_, err = r.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(r.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

func (r *Remote) listParts(ctx context.Context, key, uploadID string) ([]types.CompletedPart, error) {
	var (
		parts  []types.CompletedPart
		marker *string
	)
	for {
		out, err := r.api.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(r.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list parts: %w", err)
		}
		for _, p := range out.Parts {
			parts = append(parts, types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextPartNumberMarker == nil {
			break
		}
		marker = out.NextPartNumberMarker
	}

	slices.SortFunc(parts, func(a, b types.CompletedPart) int {
		return int(aws.ToInt32(a.PartNumber) - aws.ToInt32(b.PartNumber))
	})
	return parts, nil
}

// The file id carries both key and upload id so a resumed job needs nothing
// beyond its stored record.
func encodeFileID(key, uploadID string) string {
	return url.Values{"key": {key}, "upload": {uploadID}}.Encode()
}

func decodeFileID(fileID string) (string, string, error) {
	v, err := url.ParseQuery(fileID)
	if err != nil || v.Get("key") == "" || v.Get("upload") == "" {
		return "", "", fmt.Errorf("%w: malformed s3 file id %q", common.ErrChunkUploadFailed, fileID)
	}
	return v.Get("key"), v.Get("upload"), nil
}
