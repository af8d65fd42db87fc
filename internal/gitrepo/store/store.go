// Package store persists the git repository registry.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/db"
	"github.com/scriptdeck/scriptdeck/internal/db/dialect"
	"github.com/scriptdeck/scriptdeck/internal/gitrepo"
)

// Repository is the SQL-backed repository registry.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ gitrepo.Store = (*Repository)(nil)

// Provide creates the registry on the shared pool.
func Provide(pool *db.Pool) (*Repository, func() error, error) {
	repo, err := NewRepository(pool.Writer(), pool.Reader())
	if err != nil {
		return nil, nil, err
	}
	return repo, func() error { return nil }, nil
}

// NewRepository creates the registry and its schema.
func NewRepository(writer, reader *sqlx.DB) (*Repository, error) {
	r := &Repository{db: writer, ro: reader}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize repository schema: %w", err)
	}
	return r, nil
}

func (r *Repository) initSchema() error {
	ts := dialect.TimestampType(r.db.DriverName())
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS script_repositories (
		name TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		path TEXT NOT NULL,
		branch TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'unknown',
		ahead INTEGER NOT NULL DEFAULT 0,
		behind INTEGER NOT NULL DEFAULT 0,
		last_synced_at %[1]s,
		last_error TEXT NOT NULL DEFAULT '',
		created_at %[1]s NOT NULL,
		updated_at %[1]s NOT NULL
	);
	`, ts)
	_, err := r.db.Exec(schema)
	return err
}

type repositoryRow struct {
	Name         string       `db:"name"`
	URL          string       `db:"url"`
	Path         string       `db:"path"`
	Branch       string       `db:"branch"`
	Status       string       `db:"status"`
	Ahead        int          `db:"ahead"`
	Behind       int          `db:"behind"`
	LastSyncedAt sql.NullTime `db:"last_synced_at"`
	LastError    string       `db:"last_error"`
	CreatedAt    time.Time    `db:"created_at"`
}

const selectColumns = `name, url, path, branch, status, ahead, behind, last_synced_at, last_error, created_at`

// List returns repositories ordered by name.
func (r *Repository) List(ctx context.Context) ([]gitrepo.RepositoryInfo, error) {
	var rows []repositoryRow
	if err := r.ro.SelectContext(ctx, &rows, `SELECT `+selectColumns+` FROM script_repositories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	out := make([]gitrepo.RepositoryInfo, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toInfo())
	}
	return out, nil
}

// Get returns one repository or a NotFound error.
func (r *Repository) Get(ctx context.Context, name string) (*gitrepo.RepositoryInfo, error) {
	var row repositoryRow
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`SELECT `+selectColumns+` FROM script_repositories WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("repository", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repository %s: %w", name, err)
	}
	info := row.toInfo()
	return &info, nil
}

// Create inserts a new repository. A taken name is a Conflict.
func (r *Repository) Create(ctx context.Context, info *gitrepo.RepositoryInfo) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(1) FROM script_repositories WHERE name = ?`), info.Name)
	if err != nil {
		return fmt.Errorf("failed to check repository %s: %w", info.Name, err)
	}
	if exists > 0 {
		return apperrors.Conflict(fmt.Sprintf("repository %s already exists", info.Name))
	}

	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	if info.Status == "" {
		info.Status = gitrepo.StatusUnknown
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO script_repositories (name, url, path, branch, status, ahead, behind, last_synced_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		info.Name,
		info.URL,
		info.Path,
		info.Branch,
		string(info.Status),
		info.Ahead,
		info.Behind,
		nullTime(info.LastSyncedAt),
		info.LastError,
		info.CreatedAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create repository %s: %w", info.Name, err)
	}
	return tx.Commit()
}

// Update saves the mutable fields of an existing repository.
func (r *Repository) Update(ctx context.Context, info *gitrepo.RepositoryInfo) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE script_repositories
		SET url = ?, branch = ?, status = ?, ahead = ?, behind = ?, last_synced_at = ?, last_error = ?, updated_at = ?
		WHERE name = ?
	`),
		info.URL,
		info.Branch,
		string(info.Status),
		info.Ahead,
		info.Behind,
		nullTime(info.LastSyncedAt),
		info.LastError,
		time.Now().UTC(),
		info.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update repository %s: %w", info.Name, err)
	}
	return requireAffected(result, info.Name)
}

// Delete removes a repository entry.
func (r *Repository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM script_repositories WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("failed to delete repository %s: %w", name, err)
	}
	return requireAffected(result, name)
}

func requireAffected(result sql.Result, name string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.NotFound("repository", name)
	}
	return nil
}

func (row *repositoryRow) toInfo() gitrepo.RepositoryInfo {
	info := gitrepo.RepositoryInfo{
		Name:      row.Name,
		URL:       row.URL,
		Path:      row.Path,
		Branch:    row.Branch,
		Status:    gitrepo.Status(row.Status),
		Ahead:     row.Ahead,
		Behind:    row.Behind,
		LastError: row.LastError,
		CreatedAt: row.CreatedAt.UTC(),
	}
	if row.LastSyncedAt.Valid {
		t := row.LastSyncedAt.Time.UTC()
		info.LastSyncedAt = &t
	}
	return info
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
