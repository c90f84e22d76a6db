// Package postgres provides a PostgreSQL implementation of transport.RunStore.
// It uses pgx/v5 for connection pooling and JSONB for row result storage.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/storage"
	"github.com/stapel-ai/stapel/pkg/transport"
)

// Store is a PostgreSQL-backed RunStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.RunStore at compile time.
var _ transport.RunStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveRun persists a completed run.
func (s *Store) SaveRun(ctx context.Context, run *api.Run) error {
	tenantID := storage.GetTenant(ctx)

	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	var errorJSON []byte
	if run.Error != nil {
		errorJSON, err = json.Marshal(run.Error)
		if err != nil {
			return fmt.Errorf("marshaling error: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (
			id, tenant_id, status, model, template,
			row_count, empty_row_count, salvaged_count, timed_out,
			results, error, created_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		run.ID, tenantID, string(run.Status), run.Model, run.Template,
		run.RowCount, run.EmptyRowCount, run.SalvagedCount, run.TimedOut,
		resultsJSON, nullJSON(errorJSON), run.CreatedAt, run.DurationMS,
	)

	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID, excluding soft-deleted runs.
func (s *Store) GetRun(ctx context.Context, id string) (*api.Run, error) {
	tenantID := storage.GetTenant(ctx)

	query := `
		SELECT id, status, model, template,
		       row_count, empty_row_count, salvaged_count, timed_out,
		       results, error, created_at, duration_ms
		FROM runs
		WHERE id = $1 AND deleted_at IS NULL
	`
	args := []any{id}

	if tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	var run api.Run
	var status string
	var resultsJSON []byte
	var errorJSON *[]byte

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&run.ID, &status, &run.Model, &run.Template,
		&run.RowCount, &run.EmptyRowCount, &run.SalvagedCount, &run.TimedOut,
		&resultsJSON, &errorJSON, &run.CreatedAt, &run.DurationMS,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run.Object = "batch_run"
	run.Status = api.RunStatus(status)

	if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
		return nil, fmt.Errorf("unmarshaling results: %w", err)
	}

	if errorJSON != nil {
		var apiErr api.APIError
		if err := json.Unmarshal(*errorJSON, &apiErr); err == nil {
			run.Error = &apiErr
		}
	}

	return &run, nil
}

// DeleteRun soft-deletes a run by setting deleted_at.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tenantID := storage.GetTenant(ctx)

	query := "UPDATE runs SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL"
	args := []any{time.Now(), id}

	if tenantID != "" {
		query += " AND tenant_id = $3"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ListRuns returns a paginated list of stored runs.
func (s *Store) ListRuns(ctx context.Context, opts transport.ListOptions) (*transport.RunList, error) {
	tenantID := storage.GetTenant(ctx)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, "deleted_at IS NULL")
	if tenantID != "" {
		conds = append(conds, "tenant_id = "+arg(tenantID))
	}
	if opts.Model != "" {
		conds = append(conds, "model = "+arg(opts.Model))
	}
	if opts.Status != "" {
		conds = append(conds, "status = "+arg(opts.Status))
	}

	asc := opts.Order == "asc"

	// Cursor conditions are resolved against the cursor row's created_at.
	if opts.After != "" {
		cmp := "<"
		if asc {
			cmp = ">"
		}
		conds = append(conds, fmt.Sprintf(
			"(created_at, id) %s (SELECT created_at, id FROM runs WHERE id = %s)",
			cmp, arg(opts.After)))
	} else if opts.Before != "" {
		cmp := ">"
		if asc {
			cmp = "<"
		}
		conds = append(conds, fmt.Sprintf(
			"(created_at, id) %s (SELECT created_at, id FROM runs WHERE id = %s)",
			cmp, arg(opts.Before)))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	order := "DESC"
	if asc {
		order = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, status, model, template,
		       row_count, empty_row_count, salvaged_count, timed_out,
		       results, error, created_at, duration_ms
		FROM runs
		WHERE %s
		ORDER BY created_at %s, id %s
		LIMIT %d
	`, strings.Join(conds, " AND "), order, order, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		var run api.Run
		var status string
		var resultsJSON []byte
		var errorJSON *[]byte

		if err := rows.Scan(
			&run.ID, &status, &run.Model, &run.Template,
			&run.RowCount, &run.EmptyRowCount, &run.SalvagedCount, &run.TimedOut,
			&resultsJSON, &errorJSON, &run.CreatedAt, &run.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		run.Object = "batch_run"
		run.Status = api.RunStatus(status)
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling results: %w", err)
		}
		if errorJSON != nil {
			var apiErr api.APIError
			if err := json.Unmarshal(*errorJSON, &apiErr); err == nil {
				run.Error = &apiErr
			}
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}

	result := &transport.RunList{
		Object:  "list",
		Data:    runs,
		HasMore: hasMore,
	}
	if len(runs) > 0 {
		result.FirstID = runs[0].ID
		result.LastID = runs[len(runs)-1].ID
	}
	if result.Data == nil {
		result.Data = []*api.Run{}
	}

	return result, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
