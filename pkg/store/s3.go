package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store stores object bytes as individual S3 keys under Prefix,
// with the touched_at timestamp carried as object metadata (S3 has no
// native "last touched" field we can rely on independent of
// LastModified, which changes even on a metadata-only PUT). Grounded
// on the pack's S3 archival pattern: aws.String-wrapped
// Bucket/Key/Body arguments, metadata map for sidecar fields, and
// best-effort Delete that doesn't fail the whole batch on one miss.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store wraps an already-configured s3.Client. Constructing the
// client (region, credentials, endpoint) is the caller's
// responsibility, mirroring how the pack wires aws-sdk-go-v2 clients
// at startup rather than inside the storage layer.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

func (s *S3Store) Put(ctx context.Context, arg PutArg) error {
	return s.PutBatch(ctx, []PutArg{arg})
}

func (s *S3Store) PutBatch(ctx context.Context, args []PutArg) error {
	for _, arg := range args {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(arg.ID)),
			Body:   bytes.NewReader(arg.Bytes),
			Metadata: map[string]string{
				"touched_at": arg.TouchedAt.Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", arg.ID, err)
		}
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, id string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get object %s: %w", id, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read object %s: %w", id, err)
	}
	return data, true, nil
}

func (s *S3Store) GetBatch(ctx context.Context, ids []string) ([][]byte, error) {
	out := make([][]byte, len(ids))
	for i, id := range ids {
		data, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = data
		}
	}
	return out, nil
}

// TryGetCacheReference never succeeds for S3Store: a remote object
// store has no local filesystem path to hand back.
func (s *S3Store) TryGetCacheReference(ctx context.Context, id string) (CacheReference, bool, error) {
	return CacheReference{}, false, nil
}

func (s *S3Store) DeleteBatch(ctx context.Context, args []DeleteArg) error {
	for _, arg := range args {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(arg.ID)),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				continue
			}
			return fmt.Errorf("head object %s: %w", arg.ID, err)
		}
		touchedAt, err := time.Parse(time.RFC3339Nano, head.Metadata["touched_at"])
		if err != nil {
			touchedAt = aws.ToTime(head.LastModified)
		}
		if arg.Now.Sub(touchedAt) <= arg.TTL {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(arg.ID)),
		}); err != nil {
			return fmt.Errorf("delete object %s: %w", arg.ID, err)
		}
	}
	return nil
}

func (s *S3Store) Close() error { return nil }
