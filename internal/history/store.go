// Package history records pipeline runs in the deploy_runs table.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 20

// Fixed-width UTC timestamps keep started_at ordering lexicographic.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one recorded pipeline run.
type Run struct {
	ID         string
	Repository string
	DeliveryID string
	Ref        string
	CommitID   string
	Status     string
	Code       int
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts run.
func (s *Store) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO deploy_runs(id, repository, delivery_id, ref, commit_id, status, code, message, started_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		run.ID,
		run.Repository,
		nullable(run.DeliveryID),
		nullable(run.Ref),
		nullable(run.CommitID),
		run.Status,
		run.Code,
		nullable(run.Message),
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert deploy run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. An empty repository
// lists runs for all repositories.
func (s *Store) List(ctx context.Context, repository string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
SELECT id, repository, delivery_id, ref, commit_id, status, code, message, started_at, finished_at
FROM deploy_runs`
	args := []any{}
	if repository != "" {
		query += " WHERE repository = ?"
		args = append(args, repository)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deploy runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                        Run
			delivery, ref, commit, msg sql.NullString
			startedAt, finishedAt      string
		)
		if err := rows.Scan(&run.ID, &run.Repository, &delivery, &ref, &commit, &run.Status, &run.Code, &msg, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan deploy run: %w", err)
		}
		run.DeliveryID = delivery.String
		run.Ref = ref.String
		run.CommitID = commit.String
		run.Message = msg.String

		if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for run %s: %w", run.ID, err)
		}
		if run.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at for run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deploy runs: %w", err)
	}
	return runs, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
