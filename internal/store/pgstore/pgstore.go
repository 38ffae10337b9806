// Package pgstore implements the Run Store contract (store.Store) against
// Postgres via pgx, demonstrating spec §6's "both persistence variants
// implement the same Store contract" requirement. The Run Record (including
// its Commands) is stored as a single JSONB document per run; Update runs
// inside a transaction that locks the row (SELECT ... FOR UPDATE) before
// applying the patch and writing it back, matching spec §9's "single-row
// transaction" note for database-backed stores.
//
// Schema (applied out of band by an operator-run migration, not by this
// package):
//
//	CREATE TABLE runs (
//	    run_id     text PRIMARY KEY,
//	    project_id text NOT NULL,
//	    created_at timestamptz NOT NULL,
//	    record     jsonb NOT NULL,
//	    log_tail   text NOT NULL DEFAULT ''
//	);
//	CREATE INDEX runs_project_id_created_at_idx ON runs (project_id, created_at DESC);
package pgstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomhq/loom/internal/store"
)

// PGStore is a store.Store backed by a Postgres "runs" table.
type PGStore struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgx connection pool as a Store.
func New(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func marshalErr(err error) error {
	if err == pgx.ErrNoRows {
		return store.ErrNotFound
	}
	return err
}

// Create inserts a new run row; fails with store.ErrAlreadyExists on conflict.
func (s *PGStore) Create(ctx context.Context, run *store.RunRecord) error {
	if run.Errors == nil {
		run.Errors = []string{}
	}
	if run.Commands == nil {
		run.Commands = []store.CommandRecord{}
	}
	if run.SelectedTaskIDs == nil {
		run.SelectedTaskIDs = []string{}
	}

	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, project_id, created_at, record, log_tail)
		 VALUES ($1, $2, $3, $4, '')
		 ON CONFLICT (run_id) DO NOTHING`,
		run.RunID, run.ProjectID, run.CreatedAt, data,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *PGStore) readRecordTx(ctx context.Context, tx pgx.Tx, runID string, forUpdate bool) (*store.RunRecord, error) {
	q := `SELECT record FROM runs WHERE run_id = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}
	var data []byte
	err := tx.QueryRow(ctx, q, runID).Scan(&data)
	if err != nil {
		return nil, marshalErr(err)
	}
	var r store.RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns the full record or store.ErrNotFound.
func (s *PGStore) Get(ctx context.Context, runID string) (*store.RunRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM runs WHERE run_id = $1`, runID).Scan(&data)
	if err != nil {
		return nil, marshalErr(err)
	}
	var r store.RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns all runs for a project, ordered by CreatedAt descending.
func (s *PGStore) List(ctx context.Context, projectID string) ([]*store.RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM runs WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.RunRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r store.RunRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListAll returns every run row regardless of project, for the
// orchestrator's startup crash-recovery scan.
func (s *PGStore) ListAll(ctx context.Context) ([]*store.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.RunRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r store.RunRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PGStore) writeRecordTx(ctx context.Context, tx pgx.Tx, r *store.RunRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE runs SET record = $1 WHERE run_id = $2`, data, r.RunID)
	return err
}

// Update applies a field-level patch inside a single-row transaction.
func (s *PGStore) Update(ctx context.Context, runID string, patch store.Patch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	r, err := s.readRecordTx(ctx, tx, runID, true)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return store.ErrStale
	}
	store.ApplyPatch(r, patch)
	if err := s.writeRecordTx(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendCommand appends a new Command Record and returns its index.
func (s *PGStore) AppendCommand(ctx context.Context, runID string, cmd store.CommandRecord) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	r, err := s.readRecordTx(ctx, tx, runID, true)
	if err != nil {
		return 0, err
	}
	r.Commands = append(r.Commands, cmd)
	idx := len(r.Commands) - 1
	if err := s.writeRecordTx(ctx, tx, r); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return idx, nil
}

// FinalizeCommand sets ExitCode and FinishedAt on a previously appended Command Record.
func (s *PGStore) FinalizeCommand(ctx context.Context, runID string, index int, exitCode int, finishedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	r, err := s.readRecordTx(ctx, tx, runID, true)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(r.Commands) {
		return pgx.ErrNoRows
	}
	ec, ft := exitCode, finishedAt
	r.Commands[index].ExitCode = &ec
	r.Commands[index].FinishedAt = &ft
	if err := s.writeRecordTx(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendLog appends text to the run's log_tail column.
func (s *PGStore) AppendLog(ctx context.Context, runID string, text string) error {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET log_tail = log_tail || $1 WHERE run_id = $2`, text, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TailLog returns up to the last maxLines lines of the run's log, in order.
func (s *PGStore) TailLog(ctx context.Context, runID string, maxLines int) ([]string, error) {
	var logTail string
	err := s.pool.QueryRow(ctx, `SELECT log_tail FROM runs WHERE run_id = $1`, runID).Scan(&logTail)
	if err != nil {
		return nil, marshalErr(err)
	}
	content := strings.TrimRight(logTail, "\n")
	if content == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}

// RequestCancel sets CancellationRequestedAt iff it is currently null.
func (s *PGStore) RequestCancel(ctx context.Context, runID string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	r, err := s.readRecordTx(ctx, tx, runID, true)
	if err != nil {
		return false, err
	}
	if r.CancellationRequestedAt != nil {
		return true, nil
	}
	now := time.Now().UTC()
	r.CancellationRequestedAt = &now
	if err := s.writeRecordTx(ctx, tx, r); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return false, nil
}

var _ store.Store = (*PGStore)(nil)
