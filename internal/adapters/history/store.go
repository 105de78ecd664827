// Package history implements the history store port on SQLite. Archived
// workflow summaries and their agent logs survive here after the state
// file leaves the active root.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store implements core.HistoryStore with SQLite storage.
type Store struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewStore opens (creating if needed) the history database at dbPath
// and brings its schema up to date.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	// WAL mode so serve-mode reads don't block archival writes.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	s := &Store{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// migrate runs pending migrations.
func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration.
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordArchive stores the summary row and agent log for a workflow
// that was just moved to the completed root. Recording the same
// workflow again replaces the previous record.
func (s *Store) RecordArchive(ctx context.Context, state *core.WorkflowState, archivePath string) error {
	if state == nil {
		return fmt.Errorf("recording archive: nil state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	passed, skipped := 0, 0
	for _, gs := range state.Gates {
		if gs == nil {
			continue
		}
		switch gs.Status {
		case core.GateStatusPassed:
			passed++
		case core.GateStatusSkipped:
			skipped++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO archives (
			workflow_id, workflow_type, mode, archive_path,
			gates_passed, gates_skipped, verdicts, created_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			workflow_type = excluded.workflow_type,
			mode = excluded.mode,
			archive_path = excluded.archive_path,
			gates_passed = excluded.gates_passed,
			gates_skipped = excluded.gates_skipped,
			verdicts = excluded.verdicts,
			created_at = excluded.created_at,
			archived_at = excluded.archived_at
	`,
		state.WorkflowID, state.WorkflowType, state.Mode.Current, archivePath,
		passed, skipped, len(state.AgentLog), state.CreatedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting archive: %w", err)
	}

	// Delete existing verdicts for this workflow (will re-insert).
	_, err = tx.ExecContext(ctx, "DELETE FROM verdicts WHERE workflow_id = ?", state.WorkflowID)
	if err != nil {
		return fmt.Errorf("deleting existing verdicts: %w", err)
	}

	for _, rec := range state.AgentLog {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO verdicts (
				workflow_id, recorded_at, agent_type, gate, verdict, iteration, session_id
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			state.WorkflowID, rec.Timestamp, rec.AgentType, rec.Gate,
			rec.Verdict, rec.Iteration, nullableString(string(rec.SessionID)),
		)
		if err != nil {
			return fmt.Errorf("inserting verdict: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListArchived returns archived summaries, most recent first. A limit
// of zero or less means no limit.
func (s *Store) ListArchived(ctx context.Context, limit int) ([]core.ArchivedWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT workflow_id, workflow_type, mode, archive_path,
		       gates_passed, gates_skipped, verdicts, created_at, archived_at
		FROM archives
		ORDER BY archived_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	defer rows.Close()

	var out []core.ArchivedWorkflow
	for rows.Next() {
		var a core.ArchivedWorkflow
		err := rows.Scan(
			&a.WorkflowID, &a.WorkflowType, &a.Mode, &a.ArchivePath,
			&a.GatesPassed, &a.GatesSkipped, &a.Verdicts, &a.CreatedAt, &a.ArchivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archives: %w", err)
	}
	return out, nil
}

// VerdictLog returns the recorded agent log for one workflow, in the
// order the verdicts were recorded.
func (s *Store) VerdictLog(ctx context.Context, id core.WorkflowID) ([]core.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT recorded_at, agent_type, gate, verdict, iteration, session_id
		FROM verdicts
		WHERE workflow_id = ?
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("loading verdict log: %w", err)
	}
	defer rows.Close()

	var out []core.AgentRecord
	for rows.Next() {
		var rec core.AgentRecord
		var sessionID sql.NullString
		err := rows.Scan(&rec.Timestamp, &rec.AgentType, &rec.Gate, &rec.Verdict, &rec.Iteration, &sessionID)
		if err != nil {
			return nil, fmt.Errorf("scanning verdict row: %w", err)
		}
		if sessionID.Valid {
			rec.SessionID = core.SessionID(sessionID.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating verdicts: %w", err)
	}
	return out, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Verify that Store implements core.HistoryStore.
var _ core.HistoryStore = (*Store)(nil)
