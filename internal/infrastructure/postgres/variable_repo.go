package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/secrets"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VariableRepository persists Variable rows. Value is encrypted here before
// it ever reaches the database when a variable is sensitive — the column
// holds ciphertext, never plaintext, and this repository never decrypts it
// back; only the worker (worker.mergedVariables) does that, right before
// resolving a step.
type VariableRepository struct {
	pool   *pgxpool.Pool
	cipher *secrets.Cipher
}

func NewVariableRepository(pool *pgxpool.Pool, cipher *secrets.Cipher) *VariableRepository {
	return &VariableRepository{pool: pool, cipher: cipher}
}

func (r *VariableRepository) Create(ctx context.Context, v *domain.Variable) error {
	value, err := r.atRestValue(v)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO variables (id, name, value, is_sensitive, scope_kind, scope_job_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.Name, value, v.IsSensitive, v.Scope.Kind, nullIfEmpty(v.Scope.JobID),
	)
	if err != nil {
		return fmt.Errorf("create variable: %w", err)
	}
	return nil
}

func (r *VariableRepository) Update(ctx context.Context, v *domain.Variable) error {
	value, err := r.atRestValue(v)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE variables SET name = $2, value = $3, is_sensitive = $4
		WHERE id = $1`, v.ID, v.Name, value, v.IsSensitive)
	if err != nil {
		return fmt.Errorf("update variable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVariableNotFound
	}
	return nil
}

// atRestValue returns the bytes to persist for v.Value: the plaintext
// unchanged for a non-sensitive variable, ciphertext otherwise.
func (r *VariableRepository) atRestValue(v *domain.Variable) (string, error) {
	if !v.IsSensitive {
		return v.Value, nil
	}
	ciphertext, err := r.cipher.Encrypt(v.Value)
	if err != nil {
		return "", fmt.Errorf("encrypt variable %s: %w", v.Name, err)
	}
	return ciphertext, nil
}

func (r *VariableRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM variables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete variable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVariableNotFound
	}
	return nil
}

func (r *VariableRepository) GetByID(ctx context.Context, id string) (*domain.Variable, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, value, is_sensitive, scope_kind, scope_job_id
		FROM variables WHERE id = $1`, id)
	return scanVariable(row)
}

// Resolve returns every global variable and every variable scoped to
// jobID, global rows first, so a caller that folds the slice in order ends
// up with a job-scoped variable overriding a global one of the same name.
func (r *VariableRepository) Resolve(ctx context.Context, jobID string) ([]*domain.Variable, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, value, is_sensitive, scope_kind, scope_job_id
		FROM variables
		WHERE scope_kind = 'global' OR (scope_kind = 'job' AND scope_job_id = $1)
		ORDER BY scope_kind ASC`, jobID) // 'global' < 'job' lexically, so job rows sort last
	if err != nil {
		return nil, fmt.Errorf("resolve variables: %w", err)
	}
	defer rows.Close()

	var out []*domain.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVariable(row rowScanner) (*domain.Variable, error) {
	var v domain.Variable
	var scopeJobID *string
	err := row.Scan(&v.ID, &v.Name, &v.Value, &v.IsSensitive, &v.Scope.Kind, &scopeJobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVariableNotFound
		}
		return nil, fmt.Errorf("scan variable: %w", err)
	}
	if scopeJobID != nil {
		v.Scope.JobID = *scopeJobID
	}
	return &v, nil
}
