package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/phi-deid/internal/privacy"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const createTable = `CREATE TABLE IF NOT EXISTS settings_records (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

const upsertRecord = `INSERT INTO settings_records (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

const selectRecord = `SELECT name, value, updated_at FROM settings_records WHERE name = ?`

const countRecord = `SELECT COUNT(*) FROM settings_records WHERE name = ?`

type record struct {
	Name      string `db:"name"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// SQLStore keeps the record in a settings_records table on PostgreSQL or SQLite
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSQLStore opens the database and creates the table if needed
func NewSQLStore(cfg Config, logger *zap.Logger) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported settings database driver: %s", driver)
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	logger.Info("SQL settings store initialized",
		zap.String("driver", driver),
		zap.String("dsn", maskURL(cfg.DSN)),
	)

	return &SQLStore{db: db, logger: logger}, nil
}

// Load implements Store
func (s *SQLStore) Load(ctx context.Context) (privacy.RedactionConfig, error) {
	var rec record
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(selectRecord), RecordKey)
	if errors.Is(err, sql.ErrNoRows) {
		return privacy.DefaultRedactionConfig(), nil
	}
	if err != nil {
		return privacy.RedactionConfig{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return decode([]byte(rec.Value))
}

// Exists implements Store
func (s *SQLStore) Exists(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(countRecord), RecordKey); err != nil {
		return false, fmt.Errorf("failed to check settings: %w", err)
	}
	return n > 0, nil
}

// Save implements Store
func (s *SQLStore) Save(ctx context.Context, cfg privacy.RedactionConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertRecord), RecordKey, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return nil
}

// Close implements Store
func (s *SQLStore) Close() error {
	return s.db.Close()
}
