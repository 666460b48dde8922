package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"famcomp/internal/chore"
	"famcomp/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// sqliteStore keeps one row per task/person with the JSON body, so the
// task shape can evolve without schema changes.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadState(ctx context.Context) (State, error) {
	st := State{Tasks: []chore.Task{}, Persons: []chore.Person{}}

	if err := queryBodies(ctx, s.db, `SELECT body FROM tasks ORDER BY position`, func(b []byte) error {
		var t chore.Task
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		st.Tasks = append(st.Tasks, t)
		return nil
	}); err != nil {
		return State{}, fmt.Errorf("load tasks: %w", err)
	}

	if err := queryBodies(ctx, s.db, `SELECT body FROM persons ORDER BY position`, func(b []byte) error {
		var p chore.Person
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		st.Persons = append(st.Persons, p)
		return nil
	}); err != nil {
		return State{}, fmt.Errorf("load persons: %w", err)
	}
	return st, nil
}

func queryBodies(ctx context.Context, db *sql.DB, q string, fn func([]byte) error) error {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		if err := fn([]byte(body)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SaveState replaces both tables in one transaction.
func (s *sqliteStore) SaveState(ctx context.Context, st State) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	for i, t := range st.Tasks {
		var body []byte
		if body, err = json.Marshal(t); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO tasks(id, position, body) VALUES(?,?,?)`, t.ID, i, string(body)); err != nil {
			return fmt.Errorf("save task %q: %w", t.ID, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM persons`); err != nil {
		return err
	}
	for i, p := range st.Persons {
		var body []byte
		if body, err = json.Marshal(p); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO persons(id, position, body) VALUES(?,?,?)`, p.ID, i, string(body)); err != nil {
			return fmt.Errorf("save person %q: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, action, source, task_id, job_id, person, err) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Action, e.Source,
		nullStr(e.TaskID), nullStr(e.JobID), nullStr(e.Person), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, action, source, task_id, job_id, person, err FROM audit ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			at                           string
			e                            AuditEntry
			taskID, jobID, person, errSt sql.NullString
		)
		if err := rows.Scan(&at, &e.Action, &e.Source, &taskID, &jobID, &person, &errSt); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.TaskID, e.JobID, e.Person, e.Error = taskID.String, jobID.String, person.String, errSt.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
