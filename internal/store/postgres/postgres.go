// Package postgres implements the cyberguard entity store on PostgreSQL
// using sqlx and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/store"
)

const (
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Config holds database connection settings.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"-"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name and credentials must be configured explicitly.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// DSN renders the lib/pq key=value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an existing connection.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Connect opens a connection pool, verifies it and applies pending
// migrations. Returned errors never include the DSN.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := New(db, logger)
	if err := NewMigrator(db, s.logger).Up(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to apply migrations", err)
	}

	s.logger.Info("Connected to database", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)
	return s, nil
}

func lookup(kind models.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, errors.NewFieldValidationError("kind", "Unknown record kind", string(kind))
	}
	return t, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, kind models.Kind, id string) (models.Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + t.selectColumns() + " FROM " + t.name + " WHERE id = $1"
	rec, err := t.get(ctx, s.db, query, id)
	if err != nil {
		return nil, sanitizeDBError(t, "get "+t.name, id, err)
	}
	return rec, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, kind models.Kind) ([]models.Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + t.selectColumns() + " FROM " + t.name + " ORDER BY seq"
	recs, err := t.list(ctx, s.db, query)
	if err != nil {
		return nil, sanitizeDBError(t, "list "+t.name, "", err)
	}
	return recs, nil
}

// FindByField implements store.Store. Only whitelisted fields are accepted
// since the column name is interpolated into the query.
func (s *Store) FindByField(ctx context.Context, kind models.Kind, field, value string) (models.Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	column, ok := t.fields[field]
	if !ok {
		return nil, errors.NewFieldValidationError("field", "Field is not searchable", field)
	}
	query := "SELECT " + t.selectColumns() + " FROM " + t.name + " WHERE " + column + " = $1 ORDER BY seq LIMIT 1"
	rec, err := t.get(ctx, s.db, query, value)
	if err != nil {
		return nil, sanitizeDBError(t, "find "+t.name, field+"="+value, err)
	}
	return rec, nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, rec models.Record) error {
	if rec == nil {
		return errors.NewValidationError("Record is required")
	}
	t, err := lookup(rec.RecordKind())
	if err != nil {
		return err
	}
	if rec.RecordID() == "" {
		return errors.NewFieldValidationError("id", "Record id is required", "")
	}
	if _, err := s.db.NamedExecContext(ctx, t.insertQuery(), rec); err != nil {
		err = sanitizeDBError(t, "insert "+t.name, rec.RecordID(), err)
		var conflict *errors.ConflictError
		if stderrors.As(err, &conflict) {
			if v, ok := rec.FieldValue(conflict.Field); ok {
				conflict.Value = v
			}
		}
		return err
	}
	return nil
}

// UpdateScan implements store.Store. The row is locked with FOR UPDATE for
// the duration of mutate.
func (s *Store) UpdateScan(ctx context.Context, id string, mutate func(*models.ScanResult) error) (models.ScanResult, error) {
	t := tables[models.KindScans]

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ScanResult{}, sanitizeDBError(t, "begin scan update", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var scan models.ScanResult
	query := "SELECT " + t.selectColumns() + " FROM " + t.name + " WHERE id = $1 FOR UPDATE"
	if err := tx.GetContext(ctx, &scan, query, id); err != nil {
		return models.ScanResult{}, sanitizeDBError(t, "lock scan", id, err)
	}

	if err := mutate(&scan); err != nil {
		return models.ScanResult{}, err
	}
	scan.ID = id

	update := `UPDATE scan_results
		SET status = :status, progress = :progress, results = :results, completed_at = :completed_at
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, update, scan); err != nil {
		return models.ScanResult{}, sanitizeDBError(t, "update scan", id, err)
	}

	if err := tx.Commit(); err != nil {
		return models.ScanResult{}, sanitizeDBError(t, "commit scan update", id, err)
	}
	return scan, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.ErrDatabaseConnection(err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// sanitizeDBError converts driver errors into the store's typed errors so
// SQL details never reach API clients. The driver error is kept as Cause.
func sanitizeDBError(t table, operation, id string, err error) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.ErrNotFound(t.name, id)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			column := strings.TrimSuffix(strings.TrimPrefix(pqErr.Constraint, t.name+"_"), "_key")
			if column == "" || pqErr.Constraint == t.name+"_pkey" {
				column = "id"
			}
			conflict := errors.ErrConflict(t.name, t.fieldForColumn(column), id)
			conflict.Cause = err
			return conflict
		case "23502", "23514": // not_null_violation, check_violation
			return &errors.ValidationError{Code: errors.CodeValidation, Message: "Data validation failed", Cause: err}
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "57P01", "08000", "08003", "08006":
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, "Database operation failed: "+operation)
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		dbErr := errors.WrapDatabaseError(errors.CodeCanceled, "Database operation was canceled", err)
		dbErr.Operation = operation
		return dbErr
	}

	dbErr := errors.WrapDatabaseError(errors.CodeDatabaseQuery, "Database operation failed: "+operation, err)
	dbErr.Operation = operation
	return dbErr
}
