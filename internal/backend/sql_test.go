package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolSoCoG/mirage/internal/session"
)

func newTestSQL(t *testing.T) (*SQL, *session.Session) {
	t.Helper()
	q := NewSQL(session.NewRegistry(session.DefaultTTL))
	sess, err := q.Connect(context.Background(), AuthInfo{Username: "root", ClientIP: "198.51.100.7"})
	require.NoError(t, err)
	return q, sess
}

func TestSQLShowDatabases(t *testing.T) {
	q, sess := newTestSQL(t)
	resp, err := q.Query(context.Background(), "SHOW DATABASES;", sess)
	require.NoError(t, err)
	require.True(t, resp.Structured())
	assert.Equal(t, []string{"Database"}, resp.Columns)
	assert.Contains(t, resp.Rows, []string{"webapp"})
}

func TestSQLUsePersistsOnSession(t *testing.T) {
	q, sess := newTestSQL(t)
	ctx := context.Background()

	resp, err := q.Query(ctx, "USE webapp", sess)
	require.NoError(t, err)
	assert.Equal(t, "Database changed", resp.Output)

	resp, err = q.Query(ctx, "SHOW TABLES", sess)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tables_in_webapp"}, resp.Columns)
	assert.Contains(t, resp.Rows, []string{"users"})

	resp, err = q.Query(ctx, "SELECT DATABASE()", sess)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"webapp"}}, resp.Rows)
}

func TestSQLUseUnknownDatabase(t *testing.T) {
	q, sess := newTestSQL(t)
	_, err := q.Query(context.Background(), "USE production", sess)
	var sqlErr *SQLError
	require.ErrorAs(t, err, &sqlErr)
	assert.Equal(t, uint16(1049), sqlErr.Code)
	assert.Equal(t, "42000", sqlErr.State)
}

func TestSQLShowTablesWithoutDatabase(t *testing.T) {
	q, sess := newTestSQL(t)
	_, err := q.Query(context.Background(), "SHOW TABLES", sess)
	var sqlErr *SQLError
	require.ErrorAs(t, err, &sqlErr)
	assert.Equal(t, uint16(1046), sqlErr.Code)
}

func TestSQLSelectFromSeededTable(t *testing.T) {
	q, sess := newTestSQL(t)
	resp, err := q.Query(context.Background(), "SELECT * FROM users", sess)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "username", "email", "password_hash", "created_at"}, resp.Columns)
	assert.Len(t, resp.Rows, 3)
}

func TestSQLSelectLimit(t *testing.T) {
	q, sess := newTestSQL(t)
	resp, err := q.Query(context.Background(), "SELECT * FROM users LIMIT 1", sess)
	require.NoError(t, err)
	assert.Len(t, resp.Rows, 1)
}

func TestSQLSelectUnknownTableEmptySet(t *testing.T) {
	q, sess := newTestSQL(t)
	resp, err := q.Query(context.Background(), "SELECT * FROM secrets", sess)
	require.NoError(t, err)
	assert.True(t, resp.Structured())
	assert.Empty(t, resp.Rows)
}

func TestSQLWritesAcknowledged(t *testing.T) {
	q, sess := newTestSQL(t)
	ctx := context.Background()

	resp, err := q.Query(ctx, "INSERT INTO users VALUES (9, 'x')", sess)
	require.NoError(t, err)
	assert.Equal(t, "Query OK, 1 row affected", resp.Output)

	resp, err = q.Query(ctx, "DROP TABLE users", sess)
	require.NoError(t, err)
	assert.Equal(t, "Query OK, 0 rows affected", resp.Output)
}

func TestSQLGarbageIsSyntaxError(t *testing.T) {
	q, sess := newTestSQL(t)
	_, err := q.Query(context.Background(), "HELO server", sess)
	var sqlErr *SQLError
	require.ErrorAs(t, err, &sqlErr)
	assert.Equal(t, uint16(1064), sqlErr.Code)
	assert.Equal(t, "42000", sqlErr.State)
}
