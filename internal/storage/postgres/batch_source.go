// Package postgres reads the work-batch list from Redshift or Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// BatchSourceConfig locates the worklist table and its columns.
type BatchSourceConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration

	// Table may be schema-qualified ("workspace.websites").
	Table      string
	Field      string
	BatchField string
}

type queryCloser interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

// BatchSource lists batch ids and their URLs over a single connection.
type BatchSource struct {
	conn    queryCloser
	listSQL string
	urlsSQL string
}

// OpenBatchSource connects to the database described by cfg.
func OpenBatchSource(ctx context.Context, cfg BatchSourceConfig) (*BatchSource, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, fmt.Errorf("database host and name are required")
	}
	connCfg, err := pgx.ParseConfig(connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	// Redshift rejects the extended protocol's statement caching.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database %s: %w", cfg.Host, err)
	}
	src, err := NewBatchSourceWithConn(conn, cfg)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return src, nil
}

// NewBatchSourceWithConn builds a BatchSource over an existing connection (primarily for testing).
func NewBatchSourceWithConn(conn queryCloser, cfg BatchSourceConfig) (*BatchSource, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	table, err := quoteIdent(cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}
	field, err := quoteIdent(cfg.Field)
	if err != nil {
		return nil, fmt.Errorf("field name: %w", err)
	}
	batchField, err := quoteIdent(cfg.BatchField)
	if err != nil {
		return nil, fmt.Errorf("batch field name: %w", err)
	}
	return &BatchSource{
		conn:    conn,
		listSQL: fmt.Sprintf("SELECT DISTINCT CAST(%s AS VARCHAR) FROM %s ORDER BY 1", batchField, table),
		urlsSQL: fmt.Sprintf("SELECT %s FROM %s WHERE CAST(%s AS VARCHAR) = $1", field, table, batchField),
	}, nil
}

// ListBatchIDs returns distinct batch ids. limit <= 0 means no limit.
func (s *BatchSource) ListBatchIDs(ctx context.Context, limit int) ([]string, error) {
	sql := s.listSQL
	var args []any
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query batch ids: %w", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("read batch ids: %w", err)
	}
	return ids, nil
}

// URLsForBatch returns the batch's URLs in row order. NULL values are skipped.
func (s *BatchSource) URLsForBatch(ctx context.Context, batchID string) ([]string, error) {
	rows, err := s.conn.Query(ctx, s.urlsSQL, batchID)
	if err != nil {
		return nil, fmt.Errorf("query urls for batch %s: %w", batchID, err)
	}
	urls, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("read urls for batch %s: %w", batchID, err)
	}
	return urls, nil
}

// Close releases the connection.
func (s *BatchSource) Close(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return nil
	}
	if err := s.conn.Close(ctx); err != nil {
		return fmt.Errorf("close database connection: %w", err)
	}
	return nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	values, err := pgx.CollectRows(rows, pgx.RowTo[*string])
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by callers
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

func quoteIdent(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("identifier is required")
	}
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid identifier %q", name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func connString(cfg BatchSourceConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5439
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	if cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}
