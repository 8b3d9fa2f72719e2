package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidConfig is returned when a database step configuration is rejected.
var ErrInvalidConfig = errors.New("invalid database step configuration")

const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
	EngineSQLite   = "sqlite"

	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationSelect = "select"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config is the validated configuration of a database step.
type Config struct {
	Engine     string         `json:"engine"     validate:"required,oneof=postgres mysql sqlite"`
	Connection Connection     `json:"connection"`
	Table      string         `json:"table"      validate:"required"`
	Operation  string         `json:"operation"  validate:"required,oneof=insert update select"`
	Data       map[string]any `json:"data"`
	Where      map[string]any `json:"where"`
	Columns    []string       `json:"columns"`
	Limit      int            `json:"limit"      validate:"gte=0"`
}

// Connection holds either a full DSN or the parts to build one.
type Connection struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"     validate:"gte=0,lte=65535"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

// Schema returns the JSON schema a database step configuration must satisfy.
func Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"engine", "connection", "table", "operation"},
		"properties": map[string]any{
			"engine": map[string]any{
				"type": "string",
				"enum": []any{EnginePostgres, EngineMySQL, EngineSQLite},
			},
			"connection": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dsn":      map[string]any{"type": "string"},
					"host":     map[string]any{"type": "string"},
					"port":     map[string]any{"type": "integer", "minimum": 0, "maximum": 65535},
					"user":     map[string]any{"type": "string"},
					"password": map[string]any{"type": "string"},
					"database": map[string]any{"type": "string"},
					"sslmode":  map[string]any{"type": "string"},
				},
			},
			"table": map[string]any{"type": "string", "minLength": 1},
			"operation": map[string]any{
				"type": "string",
				"enum": []any{OperationInsert, OperationUpdate, OperationSelect},
			},
			"data":    map[string]any{"type": "object"},
			"where":   map[string]any{"type": "object"},
			"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"limit":   map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

// ParseConfig validates raw against the schema, decodes it and applies the
// semantic rules the schema cannot express.
func ParseConfig(raw map[string]any, validate *validator.Validate) (*Config, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(Schema()), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var config Config

	err = json.Unmarshal(encoded, &config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	err = validate.Struct(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	err = config.check()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &config, nil
}

func (c *Config) check() error {
	if !identifierPattern.MatchString(c.Table) {
		return fmt.Errorf("table %q is not a valid identifier", c.Table)
	}

	for _, column := range c.Columns {
		if !identifierPattern.MatchString(column) {
			return fmt.Errorf("column %q is not a valid identifier", column)
		}
	}

	for column := range c.Data {
		if !identifierPattern.MatchString(column) {
			return fmt.Errorf("data column %q is not a valid identifier", column)
		}
	}

	for column := range c.Where {
		if !identifierPattern.MatchString(column) {
			return fmt.Errorf("where column %q is not a valid identifier", column)
		}
	}

	switch c.Operation {
	case OperationInsert:
		if len(c.Data) == 0 {
			return errors.New("insert requires data")
		}
	case OperationUpdate:
		if len(c.Data) == 0 {
			return errors.New("update requires data")
		}

		if len(c.Where) == 0 {
			return errors.New("update requires where")
		}
	}

	if c.Connection.DSN != "" {
		return nil
	}

	if c.Connection.Database == "" {
		return errors.New("connection requires dsn or database")
	}

	if c.Engine != EngineSQLite && c.Connection.Host == "" {
		return errors.New("connection requires dsn or host")
	}

	return nil
}

// DriverAndDSN returns the database/sql driver name and data source name.
func (c *Config) DriverAndDSN() (string, string) {
	conn := c.Connection

	switch c.Engine {
	case EngineSQLite:
		if conn.DSN != "" {
			return "sqlite3", conn.DSN
		}

		return "sqlite3", conn.Database
	case EngineMySQL:
		if conn.DSN != "" {
			return "mysql", conn.DSN
		}

		cfg := mysql.NewConfig()
		cfg.User = conn.User
		cfg.Passwd = conn.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort(conn.Host, conn.Port, 3306)
		cfg.DBName = conn.Database
		cfg.ParseTime = true

		return "mysql", cfg.FormatDSN()
	default:
		if conn.DSN != "" {
			return "postgres", conn.DSN
		}

		dsn := url.URL{
			Scheme: "postgres",
			Host:   hostPort(conn.Host, conn.Port, 5432),
			Path:   "/" + conn.Database,
		}

		if conn.User != "" {
			dsn.User = url.UserPassword(conn.User, conn.Password)
		}

		sslMode := conn.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}

		dsn.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()

		return "postgres", dsn.String()
	}
}

func hostPort(host string, port, fallback int) string {
	if port == 0 {
		port = fallback
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}
