package database_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Eld3rt/aflow-sub000/pkg/actions/database"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupSQLite(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "steps.db")

	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (id, name, email) VALUES (1, 'ada', 'ada@example.com'), (2, 'bob', NULL)`)
	require.NoError(t, err)

	require.NoError(t, db.Close())

	return path
}

func sqliteConfig(path string, extra map[string]any) map[string]any {
	config := map[string]any{
		"engine":     "sqlite",
		"connection": map[string]any{"database": path},
		"table":      "users",
	}

	for k, v := range extra {
		config[k] = v
	}

	return config
}

// trackingOpener counts opened handles and checks every one was closed.
type trackingOpener struct {
	opened []*sqlx.DB
}

func (o *trackingOpener) open(driverName, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err == nil {
		o.opened = append(o.opened, db)
	}

	return db, err
}

func (o *trackingOpener) assertClosed(t *testing.T) {
	t.Helper()

	require.Len(t, o.opened, 1, "exactly one connection per invocation")

	for _, db := range o.opened {
		assert.Error(t, db.Ping(), "connection should be closed")
	}
}

func TestAction_Type(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "database", database.NewAction(newLogger()).Type())
}

func TestAction_InsertWithPlaceholders(t *testing.T) {
	t.Parallel()

	path := setupSQLite(t)
	opener := &trackingOpener{}
	action := database.NewAction(newLogger(), database.WithOpener(opener.open))

	output, err := action.Execute(context.Background(), sqliteConfig(path, map[string]any{
		"operation": "insert",
		"data": map[string]any{
			"id":    "{{ .user.id }}",
			"name":  "{{ .user.name }}",
			"email": "static@example.com",
		},
	}), map[string]any{"user": map[string]any{"id": 3, "name": "cyd"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": map[string]any{"rowsAffected": int64(1)}}, output)
	opener.assertClosed(t)

	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)

	defer db.Close()

	var name string
	require.NoError(t, db.Get(&name, "SELECT name FROM users WHERE id = 3"))
	assert.Equal(t, "cyd", name)
}

func TestAction_InsertKeepsStringValuesVerbatim(t *testing.T) {
	t.Parallel()

	path := setupSQLite(t)
	action := database.NewAction(newLogger())

	_, err := action.Execute(context.Background(), sqliteConfig(path, map[string]any{
		"operation": "insert",
		"data": map[string]any{
			"id":    "{{ .id }}",
			"name":  "{{ .title }}",
			"email": "{{ .code }}",
		},
	}), map[string]any{"id": 9, "title": "[urgent] fix [db]", "code": "007"})
	require.NoError(t, err)

	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)

	defer db.Close()

	var row struct {
		Name  string `db:"name"`
		Email string `db:"email"`
	}
	require.NoError(t, db.Get(&row, "SELECT name, email FROM users WHERE id = 9"))
	assert.Equal(t, "[urgent] fix [db]", row.Name)
	assert.Equal(t, "007", row.Email)
}

func TestAction_Update(t *testing.T) {
	t.Parallel()

	path := setupSQLite(t)
	action := database.NewAction(newLogger())

	output, err := action.Execute(context.Background(), sqliteConfig(path, map[string]any{
		"operation": "update",
		"data":      map[string]any{"email": "{{ .email }}"},
		"where":     map[string]any{"name": "bob"},
	}), map[string]any{"email": "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rowsAffected": int64(1)}, output["result"])
}

func TestAction_Select(t *testing.T) {
	t.Parallel()

	path := setupSQLite(t)
	opener := &trackingOpener{}
	action := database.NewAction(newLogger(), database.WithOpener(opener.open))

	output, err := action.Execute(context.Background(), sqliteConfig(path, map[string]any{
		"operation": "select",
		"columns":   []any{"id", "name"},
		"where":     map[string]any{"email": nil},
	}), map[string]any{})
	require.NoError(t, err)
	opener.assertClosed(t)

	rows, ok := output["result"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)

	row, ok := rows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bob", row["name"])
	assert.EqualValues(t, 2, row["id"])
}

func TestAction_SelectLimit(t *testing.T) {
	t.Parallel()

	path := setupSQLite(t)

	output, err := database.NewAction(newLogger()).Execute(context.Background(), sqliteConfig(path, map[string]any{
		"operation": "select",
		"limit":     1,
	}), nil)
	require.NoError(t, err)
	assert.Len(t, output["result"], 1)
}

func TestAction_ConnectionClosedOnQueryError(t *testing.T) {
	t.Parallel()

	path := setupSQLite(t)
	opener := &trackingOpener{}
	action := database.NewAction(newLogger(), database.WithOpener(opener.open))

	_, err := action.Execute(context.Background(), sqliteConfig(path, map[string]any{
		"table":     "missing_table",
		"operation": "insert",
		"data":      map[string]any{"a": 1},
	}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_table")
	opener.assertClosed(t)
}

func TestAction_ValidationHappensBeforeConnecting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config map[string]any
	}{
		{"missing engine", map[string]any{"connection": map[string]any{"database": "x"}, "table": "t", "operation": "select"}},
		{"unknown engine", map[string]any{"engine": "oracle", "connection": map[string]any{"database": "x"}, "table": "t", "operation": "select"}},
		{"unknown operation", map[string]any{"engine": "sqlite", "connection": map[string]any{"database": "x"}, "table": "t", "operation": "drop"}},
		{"unsafe table", map[string]any{"engine": "sqlite", "connection": map[string]any{"database": "x"}, "table": "t; DROP TABLE users", "operation": "select"}},
		{"unsafe column", map[string]any{"engine": "sqlite", "connection": map[string]any{"database": "x"}, "table": "t", "operation": "insert",
			"data": map[string]any{"a = 1 --": 1}}},
		{"insert without data", map[string]any{"engine": "sqlite", "connection": map[string]any{"database": "x"}, "table": "t", "operation": "insert"}},
		{"update without where", map[string]any{"engine": "sqlite", "connection": map[string]any{"database": "x"}, "table": "t", "operation": "update",
			"data": map[string]any{"a": 1}}},
		{"postgres without host", map[string]any{"engine": "postgres", "connection": map[string]any{"database": "x"}, "table": "t", "operation": "select"}},
		{"port out of range", map[string]any{"engine": "mysql", "connection": map[string]any{"host": "h", "database": "x", "port": 70000}, "table": "t", "operation": "select"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			action := database.NewAction(newLogger(), database.WithOpener(func(string, string) (*sqlx.DB, error) {
				return nil, errors.New("must not connect")
			}))

			_, err := action.Execute(context.Background(), tt.config, nil)
			require.ErrorIs(t, err, database.ErrInvalidConfig)
		})
	}
}

func TestConfig_DriverAndDSN(t *testing.T) {
	t.Parallel()

	validate := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name   string
		raw    map[string]any
		driver string
		dsn    string
	}{
		{"postgres parts", map[string]any{
			"engine":     "postgres",
			"connection": map[string]any{"host": "db", "port": 5433, "user": "app", "password": "s3cret", "database": "crm"},
			"table":      "t", "operation": "select",
		}, "postgres", "postgres://app:s3cret@db:5433/crm?sslmode=disable"},
		{"postgres dsn", map[string]any{
			"engine":     "postgres",
			"connection": map[string]any{"dsn": "postgres://x/y"},
			"table":      "t", "operation": "select",
		}, "postgres", "postgres://x/y"},
		{"mysql parts", map[string]any{
			"engine":     "mysql",
			"connection": map[string]any{"host": "db", "user": "app", "password": "pw", "database": "crm"},
			"table":      "t", "operation": "select",
		}, "mysql", "app:pw@tcp(db:3306)/crm?parseTime=true"},
		{"sqlite file", map[string]any{
			"engine":     "sqlite",
			"connection": map[string]any{"database": "/tmp/a.db"},
			"table":      "t", "operation": "select",
		}, "sqlite3", "/tmp/a.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config, err := database.ParseConfig(tt.raw, validate)
			require.NoError(t, err)

			driver, dsn := config.DriverAndDSN()
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}
}
