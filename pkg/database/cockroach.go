package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CockroachDB connection using pgx (PostgreSQL-compatible driver)
type CockroachDB struct {
	Pool *pgxpool.Pool
}

// CockroachConfig holds CockroachDB connection configuration
type CockroachConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewCockroachDB creates a new CockroachDB connection pool
func NewCockroachDB(ctx context.Context, config *CockroachConfig) (*CockroachDB, error) {
	connString := fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		config.User,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &CockroachDB{Pool: pool}, nil
}

// Close closes the connection pool
func (db *CockroachDB) Close() {
	db.Pool.Close()
}

// Ping tests the database connection
func (db *CockroachDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
