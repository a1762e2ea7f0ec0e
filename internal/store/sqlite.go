package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/usage"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			caller_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 1,
			cancelled INTEGER NOT NULL DEFAULT 0,
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_caller ON usage_records(caller_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model_id)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			expires_at TEXT,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE TABLE IF NOT EXISTS catalog_snapshot (
			model_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			input_per_1k REAL NOT NULL DEFAULT 0,
			output_per_1k REAL NOT NULL DEFAULT 0,
			capabilities TEXT NOT NULL DEFAULT '[]',
			max_context_tokens INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Usage records

func (s *SQLiteStore) Record(ctx context.Context, rec usage.Record) error {
	successInt, cancelledInt := 0, 0
	if rec.Success {
		successInt = 1
	}
	if rec.Cancelled {
		cancelledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (timestamp, caller_id, model_id, provider,
		 input_tokens, output_tokens, cost_usd, latency_ms, success, cancelled, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.CallerID, rec.ModelID, rec.Provider,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.LatencyMs,
		successInt, cancelledInt, rec.RequestID)
	return err
}

// usageWhere builds the WHERE clause and args for a UsageQuery.
func usageWhere(q UsageQuery) (string, []any) {
	var conds []string
	var args []any
	if q.CallerID != "" {
		conds = append(conds, "caller_id = ?")
		args = append(args, q.CallerID)
	}
	if q.ModelID != "" {
		conds = append(conds, "model_id = ?")
		args = append(args, q.ModelID)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, q.Until.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) ListUsage(ctx context.Context, q UsageQuery) ([]usage.Record, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	where, args := usageWhere(q)
	args = append(args, q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, caller_id, model_id, provider, input_tokens, output_tokens,
		 cost_usd, latency_ms, success, cancelled, request_id
		 FROM usage_records`+where+` ORDER BY timestamp DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []usage.Record
	for rows.Next() {
		var r usage.Record
		var ts string
		var successInt, cancelledInt int
		if err := rows.Scan(&r.ID, &ts, &r.CallerID, &r.ModelID, &r.Provider,
			&r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.LatencyMs,
			&successInt, &cancelledInt, &r.RequestID); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.Success = successInt != 0
		r.Cancelled = cancelledInt != 0
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) AggregateUsage(ctx context.Context, q UsageQuery, groupByModel bool) ([]usage.Aggregate, error) {
	where, args := usageWhere(q)

	groupCol := "caller_id"
	if groupByModel {
		groupCol = "model_id"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupCol+`,
		 COUNT(*),
		 SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
		 COALESCE(SUM(input_tokens), 0),
		 COALESCE(SUM(output_tokens), 0),
		 COALESCE(SUM(cost_usd), 0),
		 COALESCE(AVG(latency_ms), 0)
		 FROM usage_records`+where+` GROUP BY `+groupCol+` ORDER BY `+groupCol, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var aggs []usage.Aggregate
	for rows.Next() {
		var a usage.Aggregate
		var key string
		if err := rows.Scan(&key, &a.RequestCount, &a.ErrorCount,
			&a.InputTokens, &a.OutputTokens, &a.TotalCostUSD, &a.AvgLatencyMs); err != nil {
			return nil, err
		}
		if groupByModel {
			a.ModelID = key
		} else {
			a.CallerID = key
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// API keys

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key APIKeyRecord) error {
	lastUsed, expires := timePtrStr(key.LastUsedAt), timePtrStr(key.ExpiresAt)
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, created_at, last_used_at, expires_at, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Name,
		key.CreatedAt.UTC().Format(time.RFC3339), lastUsed, expires, enabledInt)
	return err
}

func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, name, created_at, last_used_at, expires_at, enabled
		 FROM api_keys WHERE id = ?`, id)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (s *SQLiteStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, name, created_at, last_used_at, expires_at, enabled
		 FROM api_keys WHERE key_prefix = ? AND enabled = 1`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectAPIKeys(rows)
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, name, created_at, last_used_at, expires_at, enabled
		 FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectAPIKeys(rows)
}

func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, key APIKeyRecord) error {
	lastUsed, expires := timePtrStr(key.LastUsedAt), timePtrStr(key.ExpiresAt)
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET key_hash=?, key_prefix=?, name=?, last_used_at=?, expires_at=?, enabled=?
		 WHERE id=?`,
		key.KeyHash, key.KeyPrefix, key.Name, lastUsed, expires, enabledInt, key.ID)
	return err
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

// Catalog snapshot

func (s *SQLiteStore) SaveCatalog(ctx context.Context, models []registry.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_snapshot`); err != nil {
		return err
	}
	for _, m := range models {
		caps, err := json.Marshal(m.Capabilities)
		if err != nil {
			return fmt.Errorf("marshal capabilities for %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_snapshot (model_id, provider, input_per_1k, output_per_1k, capabilities, max_context_tokens)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.Provider, m.InputPer1K, m.OutputPer1K, string(caps), m.MaxContextTokens); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadCatalog(ctx context.Context) ([]registry.Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, provider, input_per_1k, output_per_1k, capabilities, max_context_tokens
		 FROM catalog_snapshot ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var models []registry.Model
	for rows.Next() {
		var m registry.Model
		var caps string
		if err := rows.Scan(&m.ID, &m.Provider, &m.InputPer1K, &m.OutputPer1K, &caps, &m.MaxContextTokens); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(caps), &m.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities for %s: %w", m.ID, err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func timePtrStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*APIKeyRecord, error) {
	var k APIKeyRecord
	var createdAt string
	var lastUsed, expires sql.NullString
	var enabledInt int
	if err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name,
		&createdAt, &lastUsed, &expires, &enabledInt); err != nil {
		return nil, err
	}
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsed.String)
		k.LastUsedAt = &t
	}
	if expires.Valid {
		t, _ := time.Parse(time.RFC3339, expires.String)
		k.ExpiresAt = &t
	}
	k.Enabled = enabledInt != 0
	return &k, nil
}

func collectAPIKeys(rows *sql.Rows) ([]APIKeyRecord, error) {
	var keys []APIKeyRecord
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}
