// Package dbrunner executes Database step variants against Postgres and
// MySQL. Oracle is a declared, documented carve-out: no Oracle driver is
// available in the module's dependency set, so an Oracle step fails fast
// with ErrUnsupportedEngine rather than silently no-op'ing.
package dbrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

// ErrUnsupportedEngine is returned for Database steps targeting an engine
// this runner has no driver for (currently Oracle).
var ErrUnsupportedEngine = errors.New("dbrunner: unsupported database engine")

// Runner executes domain.DatabaseStep configurations. It opens one
// connection per step invocation rather than pooling — job-defined
// connection strings are arbitrary, tenant-controlled targets, so pooling
// across steps would leak connections across unrelated databases.
type Runner struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With("component", "dbrunner")}
}

func (r *Runner) Execute(ctx context.Context, step *domain.Step, jobCtx *domain.JobContext) (domain.StepOutput, error) {
	started := time.Now()
	if step.Database == nil {
		return domain.StepOutput{}, fmt.Errorf("dbrunner: step %s has no database config", step.ID)
	}
	d := step.Database

	var output map[string]any
	var err error
	switch d.Engine {
	case domain.DBPostgres:
		output, err = r.executePostgres(ctx, d)
	case domain.DBMySQL:
		output, err = r.executeMySQL(ctx, d)
	case domain.DBOracle:
		err = fmt.Errorf("%w: oracle step %s", ErrUnsupportedEngine, step.ID)
	default:
		err = fmt.Errorf("dbrunner: unknown engine %q", d.Engine)
	}

	completed := time.Now()
	if err != nil {
		return domain.StepOutput{
			StepID:      step.ID,
			Status:      domain.StepStatusFailed,
			StartedAt:   started,
			CompletedAt: completed,
		}, err
	}

	return domain.StepOutput{
		StepID:      step.ID,
		Status:      domain.StepStatusSuccess,
		Output:      output,
		StartedAt:   started,
		CompletedAt: completed,
	}, nil
}

func (r *Runner) executePostgres(ctx context.Context, d *domain.DatabaseStep) (map[string]any, error) {
	conn, err := pgx.Connect(ctx, d.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("dbrunner: connect postgres: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	switch d.QueryKind {
	case domain.QueryRawSQL:
		return r.queryPostgres(ctx, conn, d.Query, d.QueryArgs)
	case domain.QueryStoredProcedure:
		return r.callPostgresProcedure(ctx, conn, d.ProcedureName, d.ProcedureParams)
	default:
		return nil, fmt.Errorf("dbrunner: unknown query kind %q", d.QueryKind)
	}
}

// queryPostgres runs a raw SQL query already rewritten by the resolver into
// `$1, $2, ...` placeholders, binding args positionally — query text never
// carries an interpolated reference value.
func (r *Runner) queryPostgres(ctx context.Context, conn *pgx.Conn, query string, args []string) (map[string]any, error) {
	rows, err := conn.Query(ctx, query, toAnySlice(args)...)
	if err != nil {
		return nil, fmt.Errorf("dbrunner: postgres query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("dbrunner: postgres row values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbrunner: postgres rows: %w", err)
	}

	r.logger.DebugContext(ctx, "postgres query returned rows", "count", len(result))
	return map[string]any{"rows": result, "rowCount": len(result)}, nil
}

func (r *Runner) callPostgresProcedure(ctx context.Context, conn *pgx.Conn, name string, params map[string]string) (map[string]any, error) {
	keys, args := orderedParams(params)
	placeholders := make([]string, len(keys))
	for i := range keys {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	stmt := fmt.Sprintf("CALL %s(%s)", name, strings.Join(placeholders, ", "))

	if _, err := conn.Exec(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("dbrunner: postgres stored procedure %s: %w", name, err)
	}
	return map[string]any{"procedure": name, "parameters": params, "status": "success"}, nil
}

func (r *Runner) executeMySQL(ctx context.Context, d *domain.DatabaseStep) (map[string]any, error) {
	db, err := sql.Open("mysql", d.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("dbrunner: open mysql: %w", err)
	}
	defer func() { _ = db.Close() }()

	switch d.QueryKind {
	case domain.QueryRawSQL:
		return r.queryMySQL(ctx, db, d.Query, d.QueryArgs)
	case domain.QueryStoredProcedure:
		return r.callMySQLProcedure(ctx, db, d.ProcedureName, d.ProcedureParams)
	default:
		return nil, fmt.Errorf("dbrunner: unknown query kind %q", d.QueryKind)
	}
}

// queryMySQL runs a raw SQL query already rewritten by the resolver into
// `?` placeholders, binding args positionally — query text never carries
// an interpolated reference value.
func (r *Runner) queryMySQL(ctx context.Context, db *sql.DB, query string, args []string) (map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, toAnySlice(args)...)
	if err != nil {
		return nil, fmt.Errorf("dbrunner: mysql query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dbrunner: mysql columns: %w", err)
	}

	var result []map[string]any
	for rows.Next() {
		scanDest := make([]any, len(cols))
		rawValues := make([]sql.RawBytes, len(cols))
		for i := range scanDest {
			scanDest[i] = &rawValues[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, fmt.Errorf("dbrunner: mysql row scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if rawValues[i] == nil {
				row[col] = nil
			} else {
				row[col] = string(rawValues[i])
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbrunner: mysql rows: %w", err)
	}

	r.logger.DebugContext(ctx, "mysql query returned rows", "count", len(result))
	return map[string]any{"rows": result, "rowCount": len(result)}, nil
}

func (r *Runner) callMySQLProcedure(ctx context.Context, db *sql.DB, name string, params map[string]string) (map[string]any, error) {
	_, args := orderedParams(params)
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("CALL %s(%s)", name, strings.Join(placeholders, ", "))

	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("dbrunner: mysql stored procedure %s: %w", name, err)
	}
	return map[string]any{"procedure": name, "parameters": params, "status": "success"}, nil
}

// toAnySlice widens a resolver-produced []string of bound query args to the
// []any database/sql and pgx query methods accept.
func toAnySlice(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

// orderedParams gives procedure parameters a stable, repeatable ordering —
// map iteration order is not.
func orderedParams(params map[string]string) (keys []string, values []any) {
	keys = make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values = make([]any, len(keys))
	for i, k := range keys {
		values[i] = params[k]
	}
	return keys, values
}

// normalizeValue maps pgx-decoded values to JSON-friendly equivalents —
// time.Time to RFC3339, byte slices to string.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return t
	}
}
