package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteBusyTimeout = 5 * time.Second

	// sqliteReaderConns serves concurrent history and repository listings.
	sqliteReaderConns = 4
	sqliteConnMaxIdle = 5 * time.Minute
)

// sqliteRole describes one side of the writer/reader split. The writer is
// a single connection so history appends and repository updates serialize
// instead of failing with SQLITE_BUSY.
type sqliteRole struct {
	mode     string
	pragmas  map[string]string
	maxConns int
}

var (
	sqliteWriter = sqliteRole{
		mode: "rwc",
		pragmas: map[string]string{
			"_journal_mode": "WAL",
			"_synchronous":  "NORMAL",
			"_foreign_keys": "on",
		},
		maxConns: 1,
	}
	sqliteReader = sqliteRole{
		mode:     "ro",
		pragmas:  map[string]string{"_foreign_keys": "on"},
		maxConns: sqliteReaderConns,
	}
)

// OpenSQLite opens the single-connection writer, creating the file and its
// directory when missing.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	path := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteFile(path); err != nil {
		return nil, fmt.Errorf("failed to prepare database file: %w", err)
	}
	return openSQLite(path, sqliteWriter)
}

// OpenSQLiteReader opens a read-only pool. With the writer in WAL mode,
// reads never wait on a history append.
func OpenSQLiteReader(dbPath string) (*sql.DB, error) {
	return openSQLite(normalizeSQLitePath(dbPath), sqliteReader)
}

func openSQLite(path string, role sqliteRole) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", sqliteDSN(path, role))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database (mode=%s): %w", role.mode, err)
	}
	conn.SetMaxOpenConns(role.maxConns)
	conn.SetMaxIdleConns(role.maxConns)
	conn.SetConnMaxIdleTime(sqliteConnMaxIdle)
	return conn, nil
}

// sqliteDSN builds a go-sqlite3 URI filename. mode is handed to SQLite as a
// URI parameter; underscore keys are pragmas the driver runs on connect.
func sqliteDSN(path string, role sqliteRole) string {
	q := url.Values{}
	q.Set("mode", role.mode)
	q.Set("_busy_timeout", strconv.Itoa(int(sqliteBusyTimeout/time.Millisecond)))
	for k, v := range role.pragmas {
		q.Set(k, v)
	}
	return "file:" + path + "?" + q.Encode()
}

func ensureSQLiteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	if abs, err := filepath.Abs(dbPath); err == nil {
		return abs
	}
	return dbPath
}
