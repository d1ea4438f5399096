package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/model"

	_ "modernc.org/sqlite"
)

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// SQLStore implements Store with SQLite.
type SQLStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations, creating
// the parent directory if needed.
func Open(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runstore: create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runstore: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: ping sqlite: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("runstore: create schema: %w", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("runstore: check schema_version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("runstore: set schema version: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) CreateRun(_ context.Context, run model.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs(run_id, plan_id, state, created_at, finished_at, error)
		 VALUES(?, ?, ?, ?, NULL, '')`,
		run.RunID, run.PlanID, run.State, run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("runstore: create run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *SQLStore) GetRun(_ context.Context, runID string) (model.Run, error) {
	var run model.Run
	var createdAt string
	var finishedAt, errMsg sql.NullString
	err := s.db.QueryRow(
		`SELECT run_id, plan_id, state, created_at, finished_at, error FROM runs WHERE run_id = ?`,
		runID,
	).Scan(&run.RunID, &run.PlanID, &run.State, &createdAt, &finishedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("runstore: get run %s: %w", runID, err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.Error = nullStr(errMsg)
	if finishedAt.Valid && finishedAt.String != "" {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			run.FinishedAt = &t
		}
	}
	return run, nil
}

func (s *SQLStore) UpdateRunState(_ context.Context, runID string, state model.RunState, errMsg string) error {
	var finishedAt any
	if state == model.RunSucceeded || state == model.RunFailed || state == model.RunCancelled {
		finishedAt = nowUTC()
	}
	res, err := s.db.Exec(
		`UPDATE runs SET state = ?, error = ?, finished_at = COALESCE(?, finished_at) WHERE run_id = ?`,
		state, errMsg, finishedAt, runID,
	)
	if err != nil {
		return fmt.Errorf("runstore: update run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("runstore: update run %s: %w", runID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) UpsertNodeRun(_ context.Context, nr model.NodeRun) error {
	outputJSON, err := json.Marshal(nr.Output)
	if err != nil {
		return fmt.Errorf("runstore: marshal output for %s/%s: %w", nr.RunID, nr.NodeID, err)
	}
	artifactsJSON, err := json.Marshal(nr.ArtifactURIs)
	if err != nil {
		return fmt.Errorf("runstore: marshal artifacts for %s/%s: %w", nr.RunID, nr.NodeID, err)
	}
	var startedAt, finishedAt any
	if nr.StartedAt != nil {
		startedAt = nr.StartedAt.UTC().Format(time.RFC3339)
	}
	if nr.FinishedAt != nil {
		finishedAt = nr.FinishedAt.UTC().Format(time.RFC3339)
	}
	_, err = s.db.Exec(
		`INSERT INTO node_runs(run_id, node_id, state, attempts, started_at, finished_at,
		                       idempotency_key, output, artifact_uris, error, error_kind)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO UPDATE SET
		   state = excluded.state,
		   attempts = excluded.attempts,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at,
		   idempotency_key = excluded.idempotency_key,
		   output = excluded.output,
		   artifact_uris = excluded.artifact_uris,
		   error = excluded.error,
		   error_kind = excluded.error_kind`,
		nr.RunID, nr.NodeID, nr.State, nr.Attempts, startedAt, finishedAt,
		nr.IdempotencyKey, string(outputJSON), string(artifactsJSON), nr.Error, nr.ErrorKind,
	)
	if err != nil {
		return fmt.Errorf("runstore: upsert node run %s/%s: %w", nr.RunID, nr.NodeID, err)
	}
	return nil
}

func scanNodeRun(row interface {
	Scan(dest ...any) error
}) (model.NodeRun, error) {
	var nr model.NodeRun
	var startedAt, finishedAt, errMsg, errKind sql.NullString
	var outputJSON, artifactsJSON string
	err := row.Scan(
		&nr.RunID, &nr.NodeID, &nr.State, &nr.Attempts, &startedAt, &finishedAt,
		&nr.IdempotencyKey, &outputJSON, &artifactsJSON, &errMsg, &errKind,
	)
	if err != nil {
		return model.NodeRun{}, err
	}
	nr.Error = nullStr(errMsg)
	nr.ErrorKind = nullStr(errKind)
	if startedAt.Valid && startedAt.String != "" {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err == nil {
			nr.StartedAt = &t
		}
	}
	if finishedAt.Valid && finishedAt.String != "" {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			nr.FinishedAt = &t
		}
	}
	if outputJSON != "" && outputJSON != "null" {
		_ = json.Unmarshal([]byte(outputJSON), &nr.Output)
	}
	if artifactsJSON != "" && artifactsJSON != "null" {
		_ = json.Unmarshal([]byte(artifactsJSON), &nr.ArtifactURIs)
	}
	return nr, nil
}

func (s *SQLStore) GetNodeRun(_ context.Context, runID, nodeID string) (model.NodeRun, error) {
	row := s.db.QueryRow(
		`SELECT run_id, node_id, state, attempts, started_at, finished_at,
		        idempotency_key, output, artifact_uris, error, error_kind
		 FROM node_runs WHERE run_id = ? AND node_id = ?`,
		runID, nodeID,
	)
	nr, err := scanNodeRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NodeRun{}, ErrNotFound
	}
	if err != nil {
		return model.NodeRun{}, fmt.Errorf("runstore: get node run %s/%s: %w", runID, nodeID, err)
	}
	return nr, nil
}

func (s *SQLStore) ListNodeRuns(_ context.Context, runID string) ([]model.NodeRun, error) {
	rows, err := s.db.Query(
		`SELECT run_id, node_id, state, attempts, started_at, finished_at,
		        idempotency_key, output, artifact_uris, error, error_kind
		 FROM node_runs WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("runstore: list node runs %s: %w", runID, err)
	}
	defer rows.Close()
	var out []model.NodeRun
	for rows.Next() {
		nr, err := scanNodeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runstore: scan node run: %w", err)
		}
		out = append(out, nr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore: list node runs %s: %w", runID, err)
	}
	return out, nil
}

func (s *SQLStore) FindSucceededByIdempotencyKey(_ context.Context, idempotencyKey string) (model.NodeRun, bool, error) {
	row := s.db.QueryRow(
		`SELECT run_id, node_id, state, attempts, started_at, finished_at,
		        idempotency_key, output, artifact_uris, error, error_kind
		 FROM node_runs
		 WHERE idempotency_key = ? AND state = ?
		 ORDER BY finished_at DESC
		 LIMIT 1`,
		idempotencyKey, model.NodeSucceeded,
	)
	nr, err := scanNodeRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NodeRun{}, false, nil
	}
	if err != nil {
		return model.NodeRun{}, false, fmt.Errorf("runstore: find by idempotency key: %w", err)
	}
	return nr, true, nil
}
