package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"codocs/internal/config"
	"codocs/internal/models"
	"codocs/internal/redis"
	"codocs/internal/storage"
)

func newCachedService(t *testing.T) (*Service, *redis.Client, *sql.DB) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed document tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	rdb := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			rdb = parsed
		}
	}
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
		Redis: config.RedisConfig{Host: host, Port: port, DB: rdb},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// a single connection keeps every query on the same in-memory database
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache, err := redis.NewClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return NewService(db, cache), cache, db
}

func TestGetByIDPopulatesReadCache(t *testing.T) {
	svc, cache, db := newCachedService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "cached", json.RawMessage(`"v1"`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// a cold read fills the cache
	if _, err := svc.GetByID(ctx, doc.ID); err != nil {
		t.Fatalf("get by id: %v", err)
	}
	raw, err := cache.Get(ctx, cacheKey(doc.ID))
	if err != nil {
		t.Fatalf("expected cache entry after read, got %v", err)
	}
	var entry models.Document
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("decode cache entry: %v", err)
	}
	if entry.ID != doc.ID || string(entry.Content) != `"v1"` {
		t.Fatalf("unexpected cache entry %+v", entry)
	}

	// warm reads are served from the cache: the row is gone but the read
	// still succeeds
	if _, err := db.Exec(`DELETE FROM documents WHERE id = ?`, doc.ID); err != nil {
		t.Fatalf("delete row: %v", err)
	}
	got, err := svc.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("expected warm read to hit the cache, got %v", err)
	}
	if string(got.Content) != `"v1"` {
		t.Fatalf("content mismatch: %s", got.Content)
	}
}

func TestUpsertInvalidatesReadCache(t *testing.T) {
	svc, cache, _ := newCachedService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "invalidated", json.RawMessage(`"v1"`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.GetByID(ctx, doc.ID); err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if _, err := cache.Get(ctx, cacheKey(doc.ID)); err != nil {
		t.Fatalf("expected cache entry after read, got %v", err)
	}

	if err := svc.Upsert(ctx, doc.ID, json.RawMessage(`"v2"`), time.Now().UTC()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := cache.Get(ctx, cacheKey(doc.ID)); !errors.Is(err, redis.ErrCacheMiss) {
		t.Fatalf("expected cache entry deleted after upsert, got %v", err)
	}

	got, err := svc.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get by id after upsert: %v", err)
	}
	if string(got.Content) != `"v2"` {
		t.Fatalf("expected fresh content after invalidation, got %s", got.Content)
	}
}
