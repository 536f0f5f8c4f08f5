package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"spesebook/internal/offline"
)

// SQLiteCacheStorage persists offline cache buckets in their own SQLite
// database so the precached shell survives restarts.
type SQLiteCacheStorage struct {
	db *sql.DB
}

var _ offline.CacheStorage = (*SQLiteCacheStorage)(nil)

func NewSQLiteCacheStorage(dbPath string) (*SQLiteCacheStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create cache db directory: %w", err)
	}

	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunCacheMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run cache migrations: %w", err)
	}

	return &SQLiteCacheStorage{db: db}, nil
}

func (s *SQLiteCacheStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteCacheStorage) Open(ctx context.Context, name string) (offline.Bucket, error) {
	if _, err := s.db.ExecContext(ctx, ensureBucket, name, time.Now().UnixMilli()); err != nil {
		return nil, storageErr("open cache bucket", err)
	}
	return &sqliteBucket{db: s.db, name: name}, nil
}

func (s *SQLiteCacheStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_buckets ORDER BY name`)
	if err != nil {
		return nil, storageErr("list cache buckets", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("scan cache bucket", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list cache buckets", err)
	}
	return names, nil
}

func (s *SQLiteCacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("delete cache bucket", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_responses WHERE bucket = ?`, name); err != nil {
		return false, storageErr("delete cache responses", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_buckets WHERE name = ?`, name)
	if err != nil {
		return false, storageErr("delete cache bucket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete cache bucket", err)
	}
	if err := tx.Commit(); err != nil {
		return false, storageErr("delete cache bucket", err)
	}
	return n > 0, nil
}

type sqliteBucket struct {
	db   *sql.DB
	name string
}

// ensureBucket runs with every write: no response row exists without a
// listed bucket.
const ensureBucket = `INSERT OR IGNORE INTO cache_buckets (name, created_at) VALUES (?, ?)`

const upsertResponse = `INSERT OR REPLACE INTO cache_responses (bucket, key, status, header, body, stored_at)
	VALUES (?, ?, ?, ?, ?, ?)`

func (b *sqliteBucket) Match(ctx context.Context, key string) (offline.CachedResponse, bool, error) {
	var (
		resp     offline.CachedResponse
		header   string
		storedAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM cache_responses WHERE bucket = ? AND key = ?`,
		b.name, key).Scan(&resp.Status, &header, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return offline.CachedResponse{}, false, nil
	}
	if err != nil {
		return offline.CachedResponse{}, false, storageErr("match cached response", err)
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return offline.CachedResponse{}, false, fmt.Errorf("decode cached header for %s: %w", key, err)
	}
	resp.StoredAt = time.UnixMilli(storedAt)
	return resp, true, nil
}

func (b *sqliteBucket) Put(ctx context.Context, key string, resp offline.CachedResponse) error {
	return b.PutAll(ctx, map[string]offline.CachedResponse{key: resp})
}

func (b *sqliteBucket) PutAll(ctx context.Context, resps map[string]offline.CachedResponse) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("store cached responses", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ensureBucket, b.name, time.Now().UnixMilli()); err != nil {
		return storageErr("open cache bucket", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertResponse)
	if err != nil {
		return storageErr("prepare cached response insert", err)
	}
	defer stmt.Close()

	for key, resp := range resps {
		args, err := responseArgs(b.name, key, resp)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return storageErr("store cached response", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("store cached responses", err)
	}
	return nil
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM cache_responses WHERE bucket = ? ORDER BY key`, b.name)
	if err != nil {
		return nil, storageErr("list cached keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, storageErr("scan cached key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list cached keys", err)
	}
	return keys, nil
}

func responseArgs(bucket, key string, resp offline.CachedResponse) ([]any, error) {
	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	encoded, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header for %s: %w", key, err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	return []any{bucket, key, resp.Status, string(encoded), body, storedAt.UnixMilli()}, nil
}
