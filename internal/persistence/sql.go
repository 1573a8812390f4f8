package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const createReportsTable = `CREATE TABLE IF NOT EXISTS research_reports (
    name TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

// SQLConfig holds database configuration
type SQLConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// SQLStore keeps reports in a research_reports table. Every statement runs
// through a circuit breaker.
type SQLStore struct {
	db     *sqlx.DB
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLStore opens the database, pings it and creates the table.
func OpenSQLStore(ctx context.Context, cfg SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	switch cfg.Driver {
	case "":
		cfg.Driver = DriverPostgres
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 2
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewSQLStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Report store initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return s, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.NewCircuitBreaker("report-store", circuitbreaker.GetStoreSettings().ToConfig(), logger)
	circuitbreaker.Default.Register("store", cb)
	return &SQLStore{db: db, cb: cb, logger: logger, now: time.Now}
}

func (s *SQLStore) exec(ctx context.Context, fn func() error) error {
	err := s.cb.Execute(ctx, fn)
	circuitbreaker.Default.Record(s.cb, "store", err == nil)
	return err
}

// Migrate creates the reports table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.exec(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, createReportsTable); err != nil {
			return fmt.Errorf("failed to create reports table: %w", err)
		}
		return nil
	})
}

// Save implements Persister. Saving an existing name replaces its content.
func (s *SQLStore) Save(ctx context.Context, name, text string) error {
	query := s.db.Rebind(`INSERT INTO research_reports (name, content, created_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET content = excluded.content, created_at = excluded.created_at`)
	return s.exec(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, query, name, text, s.now().UTC()); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		return nil
	})
}

// Get loads one report by name.
func (s *SQLStore) Get(ctx context.Context, name string) (*Report, error) {
	var (
		r     Report
		found bool
	)
	query := s.db.Rebind(`SELECT name, content, created_at FROM research_reports WHERE name = ?`)
	err := s.exec(ctx, func() error {
		err := s.db.GetContext(ctx, &r, query, name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrReportNotFound
	}
	return &r, nil
}

// List returns the most recent reports, newest first, without content.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Report
	query := s.db.Rebind(`SELECT name, '' AS content, created_at FROM research_reports ORDER BY created_at DESC LIMIT ?`)
	err := s.exec(ctx, func() error {
		return s.db.SelectContext(ctx, &out, query, limit)
	})
	return out, err
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
