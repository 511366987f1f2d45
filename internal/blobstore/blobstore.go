// Package blobstore wraps the MinIO object store holding canonical job
// definitions, per-execution Job Context documents, and file artifacts
// produced or consumed by File/Sftp steps.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

var ErrNotFound = errors.New("blobstore: object not found")

type Store struct {
	client *minio.Client
	bucket string
}

func New(client *minio.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket if it does not already exist. Safe to
// call on every process start.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object %q: %w", path, err)
	}
	if len(data) == 0 {
		if _, statErr := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); statErr != nil {
			return nil, ErrNotFound
		}
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %q: %w", path, err)
	}
	return nil
}

// PutAtomic writes data so a concurrent reader of path never observes a
// partial write: the object lands at a temp key first, then CopyObject
// promotes it onto the canonical path (MinIO's nearest equivalent of a
// filesystem rename — there is no native rename operation), and the temp
// key is removed afterward. CopyObject is itself atomic from a reader's
// perspective, satisfying the Job Context store's durability contract.
func (s *Store) PutAtomic(ctx context.Context, path string, data []byte, contentType string) error {
	tempPath := path + ".tmp." + uuid.NewString()
	if err := s.Put(ctx, tempPath, data, contentType); err != nil {
		return fmt.Errorf("write temp object: %w", err)
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: path},
		minio.CopySrcOptions{Bucket: s.bucket, Object: tempPath},
	)
	if err != nil {
		return fmt.Errorf("promote temp object to %q: %w", path, err)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, tempPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("clean up temp object %q: %w", tempPath, err)
	}
	return nil
}

// Delete is a best-effort removal — callers that need cascade-on-delete
// semantics for a job's definition blob use this and ignore ErrNotFound.
func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("delete object %q: %w", path, err)
	}
	return nil
}
