// Package database provides the database step executor for postgres, mysql and sqlite.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/Eld3rt/aflow-sub000/pkg/template"
	"github.com/go-playground/validator/v10"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const StepType = "database"

// Opener opens a database handle for a driver and DSN.
type Opener func(driverName, dsn string) (*sqlx.DB, error)

// Action executes a single insert, update or select per invocation.
type Action struct {
	logger   *slog.Logger
	open     Opener
	validate *validator.Validate
}

type Option func(*Action)

// WithOpener replaces sqlx.Open.
func WithOpener(open Opener) Option {
	return func(a *Action) {
		a.open = open
	}
}

func NewAction(logger *slog.Logger, opts ...Option) *Action {
	a := &Action{
		logger:   logger.With("module", "database_action"),
		open:     sqlx.Open,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *Action) Type() string {
	return StepType
}

// Execute validates the configuration, renders placeholders in data and where,
// and runs the operation on a connection that is closed before returning.
func (a *Action) Execute(ctx context.Context, raw map[string]any, execCtx map[string]any) (map[string]any, error) {
	config, err := ParseConfig(raw, a.validate)
	if err != nil {
		return nil, err
	}

	data, err := template.SubstituteMap(config.Data, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render data: %w", err)
	}

	where, err := template.SubstituteMap(config.Where, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render where: %w", err)
	}

	driverName, dsn := config.DriverAndDSN()

	db, err := a.open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", config.Engine, err)
	}

	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			a.logger.ErrorContext(ctx, "failed to close database connection", "engine", config.Engine, "error", closeErr)
		}
	}()

	db.SetMaxOpenConns(1)

	a.logger.DebugContext(ctx, "executing database step",
		"engine", config.Engine,
		"operation", config.Operation,
		"table", config.Table,
	)

	var result any

	switch config.Operation {
	case OperationInsert:
		result, err = a.insert(ctx, db, config.Table, data)
	case OperationUpdate:
		result, err = a.update(ctx, db, config.Table, data, where)
	case OperationSelect:
		result, err = a.selectRows(ctx, db, config, where)
	default:
		err = fmt.Errorf("%w: unsupported operation %q", ErrInvalidConfig, config.Operation)
	}

	if err != nil {
		return nil, err
	}

	return map[string]any{"result": result}, nil
}

func (a *Action) insert(ctx context.Context, db *sqlx.DB, table string, data map[string]any) (any, error) {
	columns := sortedKeys(data)
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))

	for i, column := range columns {
		placeholders[i] = "?"
		args[i] = sqlValue(data[column])
	}

	query := db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", ")))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	return rowsAffected(res)
}

func (a *Action) update(ctx context.Context, db *sqlx.DB, table string, data, where map[string]any) (any, error) {
	columns := sortedKeys(data)
	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(where))

	for i, column := range columns {
		assignments[i] = column + " = ?"
		args = append(args, sqlValue(data[column]))
	}

	clause, whereArgs := whereClause(where)
	args = append(args, whereArgs...)

	query := db.Rebind(fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(assignments, ", "), clause))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", table, err)
	}

	return rowsAffected(res)
}

func (a *Action) selectRows(ctx context.Context, db *sqlx.DB, config *Config, where map[string]any) (any, error) {
	columns := "*"
	if len(config.Columns) > 0 {
		columns = strings.Join(config.Columns, ", ")
	}

	clause, args := whereClause(where)
	query := fmt.Sprintf("SELECT %s FROM %s%s", columns, config.Table, clause)

	if config.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(config.Limit)
	}

	rows, err := db.QueryxContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", config.Table, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			a.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	results := make([]any, 0)

	for rows.Next() {
		row := map[string]any{}

		err := rows.MapScan(row)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for column, value := range row {
			if b, ok := value.([]byte); ok {
				row[column] = string(b)
			}
		}

		results = append(results, row)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

func whereClause(where map[string]any) (string, []any) {
	if len(where) == 0 {
		return "", nil
	}

	columns := sortedKeys(where)
	conditions := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))

	for _, column := range columns {
		value := where[column]
		if value == nil {
			conditions = append(conditions, column+" IS NULL")

			continue
		}

		conditions = append(conditions, column+" = ?")
		args = append(args, sqlValue(value))
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// sqlValue encodes nested documents as JSON text; scalars pass through.
func sqlValue(value any) any {
	switch value.(type) {
	case map[string]any, []any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}

		return string(encoded)
	default:
		return value
	}
}

type execResult interface {
	RowsAffected() (int64, error)
}

func rowsAffected(res execResult) (any, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return map[string]any{"rowsAffected": affected}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
