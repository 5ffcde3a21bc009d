package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/Combine-Capital/cqi/pkg/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

// querier is the query surface shared by the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PostgresRepository implements SnapshotRepository using PostgreSQL via CQI
type PostgresRepository struct {
	pool *database.Pool
	q    querier
}

// NewPostgresRepository creates a new PostgreSQL repository instance
func NewPostgresRepository(pool *database.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
		q:    pool,
	}
}

// WithTransaction executes a function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (r *PostgresRepository) WithTransaction(ctx context.Context, fn func(repo *PostgresRepository) error) error {
	return r.pool.WithTransaction(ctx, func(tx database.Transaction) error {
		// Create a transaction-scoped repository
		txRepo := &PostgresRepository{
			pool: r.pool,
			q:    tx,
		}
		return fn(txRepo)
	})
}

// Migrate creates the snapshot schema if it does not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.HealthCheck(ctx)
}

// exec is a helper to execute a query and return the result
func (r *PostgresRepository) exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return r.q.Exec(ctx, query, args...)
}

// query is a helper to query multiple rows
func (r *PostgresRepository) query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return r.q.Query(ctx, query, args...)
}
