// Package s3 implements a content store over Amazon S3 or any S3-compatible
// endpoint.
//
// Object keys are "<prefix>/<id>", where the prefix is derived from the
// export's pool and container identifiers so one bucket can carry several
// containers. S3 has no partial-object update, so WriteAt and Truncate use
// read-modify-write: correct for the FSAL's access pattern (NFS writes are
// mostly sequential and commit-bounded) but O(object) per random write.
// Range reads map directly onto ranged GetObject.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mjmac/daosnfs/pkg/content"
)

// Store implements content.Store over an S3 bucket.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// Config carries the parameters for an S3 content store.
type Config struct {
	// Client is a configured S3 client.
	Client *s3.Client

	// Bucket is the bucket name. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key, e.g.
	// "<pool>/<container>/".
	KeyPrefix string
}

// New creates an S3 content store and verifies bucket access with a
// HeadBucket call.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

var _ content.Store = (*Store)(nil)

func (s *Store) objectKey(id content.ID) string {
	return s.keyPrefix + string(id)
}

// getFull downloads the whole object. Returns content.ErrNotFound for
// missing keys.
func (s *Store) getFull(ctx context.Context, id content.ID) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("content %s: %w", id, content.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

func (s *Store) put(ctx context.Context, id content.ID, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object to S3: %w", err)
	}
	return nil
}

func (s *Store) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("write %s at %d: %w", id, offset, content.ErrInvalidOffset)
	}

	cur, err := s.getFull(ctx, id)
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		return err
	}

	end := offset + int64(len(data))
	if int64(len(cur)) < end {
		grown := make([]byte, end)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:end], data)

	return s.put(ctx, id, cur)
}

func (s *Store) ReadAt(ctx context.Context, id content.ID, buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("read %s at %d: %w", id, offset, content.ErrInvalidOffset)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	// Ranged GetObject; S3 returns InvalidRange when the offset is at or
	// past the end of the object, which maps to a zero-byte read.
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(buf))-1)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrNotFound)
		}
		var invalidRange *types.InvalidRange
		if errors.As(err, &invalidRange) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get object range from S3: %w", err)
	}
	defer result.Body.Close()

	n, err := io.ReadFull(result.Body, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		return n, fmt.Errorf("failed to read object range: %w", err)
	}
	return n, nil
}

func (s *Store) Size(ctx context.Context, id content.ID) (int64, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to head object: %w", err)
	}
	if result.ContentLength == nil {
		return 0, nil
	}
	return *result.ContentLength, nil
}

func (s *Store) Truncate(ctx context.Context, id content.ID, size int64) error {
	if size < 0 {
		return fmt.Errorf("truncate %s to %d: %w", id, size, content.ErrInvalidOffset)
	}

	cur, err := s.getFull(ctx, id)
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		return err
	}
	if int64(len(cur)) == size && cur != nil {
		return nil
	}

	resized := make([]byte, size)
	copy(resized, cur)
	return s.put(ctx, id, resized)
}

func (s *Store) Delete(ctx context.Context, id content.ID) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

// Flush is a no-op: PutObject is durable on return.
func (s *Store) Flush(ctx context.Context, id content.ID) error {
	return ctx.Err()
}
