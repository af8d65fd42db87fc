// Package history persists terminated process records.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/db"
	"github.com/scriptdeck/scriptdeck/internal/db/dialect"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

// Store is the SQL-backed append-only history log.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ process.HistoryStore = (*Store)(nil)

// Provide creates the history store on the shared pool.
func Provide(pool *db.Pool) (*Store, func() error, error) {
	store, err := NewStore(pool.Writer(), pool.Reader())
	if err != nil {
		return nil, nil, err
	}
	return store, func() error { return nil }, nil
}

// NewStore creates the store and its schema.
func NewStore(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize process history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ts := dialect.TimestampType(s.db.DriverName())
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS process_history (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '[]',
		cwd TEXT NOT NULL DEFAULT '',
		user_name TEXT,
		pid INTEGER,
		status TEXT NOT NULL,
		start_time %[1]s NOT NULL,
		end_time %[1]s,
		exit_code INTEGER,
		error TEXT NOT NULL DEFAULT '',
		interactive INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '[]',
		recorded_at %[1]s NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_process_history_start_time ON process_history(start_time);
	`, ts)
	_, err := s.db.Exec(schema)
	return err
}

type historyRow struct {
	ID          string         `db:"id"`
	Command     string         `db:"command"`
	Args        string         `db:"args"`
	Cwd         string         `db:"cwd"`
	User        sql.NullString `db:"user_name"`
	PID         sql.NullInt64  `db:"pid"`
	Status      string         `db:"status"`
	StartTime   time.Time      `db:"start_time"`
	EndTime     sql.NullTime   `db:"end_time"`
	ExitCode    sql.NullInt64  `db:"exit_code"`
	Error       string         `db:"error"`
	Interactive int            `db:"interactive"`
	Output      string         `db:"output"`
}

const selectColumns = `id, command, args, cwd, user_name, pid, status, start_time, end_time, exit_code, error, interactive`

// Append records a terminal process. Only terminal records are accepted.
func (s *Store) Append(ctx context.Context, rec process.ProcessRecord, output []process.OutputChunk) error {
	if !rec.Status.IsTerminal() {
		return apperrors.InvalidState(fmt.Sprintf("process %s is not terminal (status: %s)", rec.ID, rec.Status))
	}
	args, err := json.Marshal(nonNilArgs(rec.Args))
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	if output == nil {
		output = []process.OutputChunk{}
	}
	out, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO process_history (id, command, args, cwd, user_name, pid, status, start_time, end_time, exit_code, error, interactive, output, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		rec.ID,
		rec.Command,
		string(args),
		rec.Cwd,
		nullString(rec.User),
		nullInt(rec.PID),
		string(rec.Status),
		rec.StartTime.UTC(),
		nullTime(rec.EndTime),
		nullInt(rec.ExitCode),
		rec.Error,
		dialect.BoolToInt(rec.Interactive),
		string(out),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append process %s to history: %w", rec.ID, err)
	}
	return nil
}

// Get returns a historical record with its output snapshot.
func (s *Store) Get(ctx context.Context, id string) (*process.ProcessRecord, []process.OutputChunk, error) {
	var row historyRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`
		SELECT `+selectColumns+`, output FROM process_history WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperrors.NotFound("process", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load process %s from history: %w", id, err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return nil, nil, err
	}
	var output []process.OutputChunk
	if err := json.Unmarshal([]byte(row.Output), &output); err != nil {
		return nil, nil, fmt.Errorf("failed to decode output of %s: %w", id, err)
	}
	return rec, output, nil
}

// List returns records newest first. limit <= 0 returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]process.ProcessRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM process_history ORDER BY start_time DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []historyRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list process history: %w", err)
	}
	out := make([]process.ProcessRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r *historyRow) toRecord() (*process.ProcessRecord, error) {
	rec := &process.ProcessRecord{
		ID:          r.ID,
		Command:     r.Command,
		Cwd:         r.Cwd,
		Status:      process.Status(r.Status),
		StartTime:   r.StartTime.UTC(),
		Error:       r.Error,
		Interactive: r.Interactive != 0,
	}
	if err := json.Unmarshal([]byte(r.Args), &rec.Args); err != nil {
		return nil, fmt.Errorf("failed to decode args of %s: %w", r.ID, err)
	}
	if r.User.Valid {
		user := r.User.String
		rec.User = &user
	}
	if r.PID.Valid {
		pid := int(r.PID.Int64)
		rec.PID = &pid
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time.UTC()
		rec.EndTime = &end
	}
	if r.ExitCode.Valid {
		code := int(r.ExitCode.Int64)
		rec.ExitCode = &code
	}
	return rec, nil
}

func nonNilArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
