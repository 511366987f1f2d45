// Package contextstore provides read-your-writes durability for the Job
// Context between worker steps and across crash/retry boundaries, per the
// worker's context-persistence invariant: a step's output is committed iff
// the Context blob containing it has been flushed here.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/blobstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// ErrAbsent is returned by Load when no Context has ever been stored for
// the given execution — distinct from a storage-layer error.
var ErrAbsent = errors.New("contextstore: no context stored for this execution")

type Store struct {
	blobs *blobstore.Store
}

func New(blobs *blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

func path(jobID, executionID string) string {
	return fmt.Sprintf("jobs/%s/executions/%s/context.json", jobID, executionID)
}

// Save fully overwrites the Context blob, atomically from a reader's
// perspective.
func (s *Store) Save(ctx context.Context, jc *domain.JobContext) error {
	data, err := json.Marshal(jc)
	if err != nil {
		return fmt.Errorf("marshal job context: %w", err)
	}
	if err := s.blobs.PutAtomic(ctx, path(jc.JobID, jc.ExecutionID), data, "application/json"); err != nil {
		return fmt.Errorf("store job context: %w", err)
	}
	return nil
}

// Load returns the most recently stored Context, or ErrAbsent if none has
// ever been written for this execution.
func (s *Store) Load(ctx context.Context, jobID, executionID string) (*domain.JobContext, error) {
	data, err := s.blobs.Get(ctx, path(jobID, executionID))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrAbsent
		}
		return nil, fmt.Errorf("load job context: %w", err)
	}

	var jc domain.JobContext
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("unmarshal job context: %w", err)
	}
	return &jc, nil
}
