package db

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptdeck/scriptdeck/internal/common/config"
)

func TestOpenSQLiteWriterAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	writerConn, err := OpenSQLite(path)
	require.NoError(t, err)
	readerConn, err := OpenSQLiteReader(path)
	require.NoError(t, err)

	pool := NewPool(sqlx.NewDb(writerConn, "sqlite3"), sqlx.NewDb(readerConn, "sqlite3"))
	t.Cleanup(func() { _ = pool.Close() })
	assert.Equal(t, "sqlite3", pool.DriverName())

	_, err = pool.Writer().Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = pool.Writer().Exec(pool.Writer().Rebind(`INSERT INTO kv (k, v) VALUES (?, ?)`), "a", "1")
	require.NoError(t, err)

	var v string
	require.NoError(t, pool.Reader().Get(&v, pool.Reader().Rebind(`SELECT v FROM kv WHERE k = ?`), "a"))
	assert.Equal(t, "1", v)

	_, err = pool.Reader().Exec(`INSERT INTO kv (k, v) VALUES ('b', '2')`)
	assert.Error(t, err, "reader connection must be read-only")
}

func TestNormalizeSQLitePath(t *testing.T) {
	assert.Equal(t, "", normalizeSQLitePath(""))
	assert.True(t, filepath.IsAbs(normalizeSQLitePath("rel.db")))
}

func TestSQLiteDSNRoles(t *testing.T) {
	query := func(dsn string) url.Values {
		_, raw, ok := strings.Cut(dsn, "?")
		require.True(t, ok)
		q, err := url.ParseQuery(raw)
		require.NoError(t, err)
		return q
	}

	writer := sqliteDSN("/data/scriptdeck.db", sqliteWriter)
	assert.True(t, strings.HasPrefix(writer, "file:/data/scriptdeck.db?"))
	wq := query(writer)
	assert.Equal(t, "rwc", wq.Get("mode"))
	assert.Equal(t, "WAL", wq.Get("_journal_mode"))
	assert.Equal(t, "5000", wq.Get("_busy_timeout"))

	rq := query(sqliteDSN("/data/scriptdeck.db", sqliteReader))
	assert.Equal(t, "ro", rq.Get("mode"))
	assert.Empty(t, rq.Get("_mode"))
	assert.Empty(t, rq.Get("_journal_mode"))
}

func TestOpenPostgresRequiresReachableDSN(t *testing.T) {
	_, err := OpenPostgres(config.DatabaseConfig{Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")

	_, err = OpenPostgres(config.DatabaseConfig{
		Driver: "postgres",
		DSN:    "postgres://scriptdeck@127.0.0.1:1/scriptdeck?sslmode=disable&connect_timeout=1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach postgres")
}
