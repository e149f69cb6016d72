package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresTable = "isul_activations"

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures a PostgresRegistry.
type PostgresOption func(*PostgresRegistry)

// WithTableName sets the PostgreSQL table name. Default: "isul_activations".
func WithTableName(name string) PostgresOption {
	return func(r *PostgresRegistry) {
		r.tableName = name
	}
}

// PostgresRegistry implements Registry using PostgreSQL.
type PostgresRegistry struct {
	pool      *pgxpool.Pool
	tableName string
	ownsPool  bool
}

// NewPostgresRegistry creates a PostgreSQL-backed activation registry.
// It auto-creates the table and indexes on initialization.
func NewPostgresRegistry(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresRegistry, error) {
	r := &PostgresRegistry{
		pool:      pool,
		tableName: defaultPostgresTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	if !validIdentifier.MatchString(r.tableName) {
		return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", r.tableName)
	}
	if err := r.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return r, nil
}

// OpenPostgres connects to databaseURL and returns a registry that closes the
// pool on Close.
func OpenPostgres(ctx context.Context, databaseURL string, opts ...PostgresOption) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	r, err := NewPostgresRegistry(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	r.ownsPool = true
	return r, nil
}

func (r *PostgresRegistry) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id           TEXT PRIMARY KEY,
			license_key  TEXT NOT NULL,
			product_id   TEXT NOT NULL DEFAULT '',
			fingerprint  TEXT NOT NULL,
			hostname     TEXT NOT NULL DEFAULT '',
			os           TEXT NOT NULL DEFAULT '',
			activated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (license_key, fingerprint)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_license_key_last_seen
			ON %s (license_key, last_seen_at);
	`, r.tableName, r.tableName, r.tableName)
	_, err := r.pool.Exec(ctx, query)
	return err
}

func (r *PostgresRegistry) Register(ctx context.Context, a Activation) (*Activation, error) {
	now := time.Now()
	query := fmt.Sprintf(`
		INSERT INTO %s (id, license_key, product_id, fingerprint, hostname, os, activated_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (license_key, fingerprint) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			hostname = EXCLUDED.hostname,
			os = EXCLUDED.os,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING id, activated_at, last_seen_at
	`, r.tableName)

	err := r.pool.QueryRow(ctx, query,
		a.ID, a.LicenseKey, a.ProductID, a.Fingerprint, a.Hostname, a.OS, now,
	).Scan(&a.ID, &a.ActivatedAt, &a.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("register activation: %w", err)
	}
	return &a, nil
}

func (r *PostgresRegistry) Get(ctx context.Context, id string) (*Activation, error) {
	query := fmt.Sprintf(`
		SELECT id, license_key, product_id, fingerprint, hostname, os, activated_at, last_seen_at
		FROM %s WHERE id = $1
	`, r.tableName)

	var a Activation
	err := r.pool.QueryRow(ctx, query, id).Scan(&a.ID, &a.LicenseKey, &a.ProductID,
		&a.Fingerprint, &a.Hostname, &a.OS, &a.ActivatedAt, &a.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", err)
	}
	return &a, nil
}

func (r *PostgresRegistry) Deregister(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tableName)
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deregister activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) Count(ctx context.Context, licenseKey string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE license_key = $1`, r.tableName)
	var count int
	err := r.pool.QueryRow(ctx, query, licenseKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count activations: %w", err)
	}
	return count, nil
}

func (r *PostgresRegistry) List(ctx context.Context, licenseKey string) ([]Activation, error) {
	query := fmt.Sprintf(`
		SELECT id, license_key, product_id, fingerprint, hostname, os, activated_at, last_seen_at
		FROM %s WHERE license_key = $1 ORDER BY activated_at
	`, r.tableName)

	rows, err := r.pool.Query(ctx, query, licenseKey)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		var a Activation
		if err := rows.Scan(&a.ID, &a.LicenseKey, &a.ProductID, &a.Fingerprint,
			&a.Hostname, &a.OS, &a.ActivatedAt, &a.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) Ping(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET last_seen_at = NOW() WHERE id = $1`, r.tableName)
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ping activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) Prune(ctx context.Context, licenseKey string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	query := fmt.Sprintf(`DELETE FROM %s WHERE license_key = $1 AND last_seen_at < $2`, r.tableName)
	tag, err := r.pool.Exec(ctx, query, licenseKey, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRegistry) Close(_ context.Context) error {
	if r.ownsPool {
		r.pool.Close()
	}
	return nil // otherwise the caller manages the pgxpool.Pool lifecycle
}
