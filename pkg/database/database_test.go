package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)"

	assert.Equal(t, q, Rebind(DialectSQLite, q))
	assert.Equal(t,
		"SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)",
		Rebind(DialectPostgres, q))
}

func TestSplitStatements(t *testing.T) {
	script := `-- header
CREATE TABLE a (
    id TEXT
);

-- second
CREATE INDEX idx ON a(id);
`
	stmts := SplitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Equal(t, "CREATE INDEX idx ON a(id)", stmts[1])
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "pgx"}, zap.NewNop())
	assert.Error(t, err, "pgx needs a dsn")
}

func TestMigrator_EmbeddedSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db, zap.NewNop())
	applied, err := m.Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, applied, 1)

	applied, err = m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'approval_requests'").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrator_OrdersByVersion(t *testing.T) {
	source := fstest.MapFS{
		"010_later.sql": {Data: []byte("CREATE TABLE later (id TEXT);")},
		"002_first.sql": {Data: []byte("CREATE TABLE first (id TEXT);")},
	}

	m := NewMigratorFS(nil, source, zap.NewNop())
	migrations, err := m.Load()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, 10, migrations[1].Version)
}
