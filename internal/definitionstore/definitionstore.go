// Package definitionstore reads and writes the canonical job definition
// document — the ordered step pipeline a Job points at via its
// DefinitionPath.
package definitionstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/blobstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/google/uuid"
)

type Store struct {
	blobs *blobstore.Store
}

func New(blobs *blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

func Path(jobID string) string {
	return fmt.Sprintf("jobs/%s/definition.json", jobID)
}

// Put validates and stores a definition. Callers must not commit the
// owning Job catalog row until this succeeds — the definition blob MUST
// parse and validate before the catalog row is committed.
func (s *Store) Put(ctx context.Context, jobID string, def *domain.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	if err := s.blobs.Put(ctx, Path(jobID), data, "application/json"); err != nil {
		return fmt.Errorf("store definition: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*domain.Definition, error) {
	data, err := s.blobs.Get(ctx, Path(jobID))
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}

	var def domain.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Delete is best-effort, matching the Job deletion contract: catalog row
// deletion cascades immediately; the definition blob is cleaned up
// opportunistically and a failure here does not roll back the delete.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	return s.blobs.Delete(ctx, Path(jobID))
}

// NewJobID mints the opaque 128-bit job identifier.
func NewJobID() string {
	return uuid.NewString()
}
