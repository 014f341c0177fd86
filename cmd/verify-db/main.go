// Command verify-db applies the SQL files under migrations/ exactly once
// each, guarded by an advisory lock so concurrent deploys do not race. A
// changed checksum on an already-applied file aborts instead of re-running.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

const migrationsDir = "migrations"

// migratorLockKey is arbitrary but must be stable across releases.
const migratorLockKey = 881204417

func main() {
	_ = godotenv.Load()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		log.Fatal("[CONNECT] DATABASE_URL is required")
	}

	ctx := context.Background()
	pool := connect(ctx, url)
	defer pool.Close()

	lock := acquireMigratorLock(ctx, pool)
	defer lock.Release()

	ensureLedger(ctx, pool)
	for _, filename := range discoverMigrations() {
		applyMigration(ctx, pool, filename)
	}
	log.Println("[DONE] schema is up to date")
}

func connect(ctx context.Context, url string) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		log.Fatalf("[CONNECT] create pool: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		log.Fatalf("[CONNECT] ping: %v", err)
	}
	return pool
}

func acquireMigratorLock(ctx context.Context, pool *pgxpool.Pool) *pgxpool.Conn {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		log.Fatalf("[LOCK] acquire connection: %v", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migratorLockKey).Scan(&locked); err != nil {
		log.Fatalf("[LOCK] advisory lock: %v", err)
	}
	if !locked {
		log.Fatal("[LOCK] another migrator is running")
	}
	return conn
}

func ensureLedger(ctx context.Context, pool *pgxpool.Pool) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		log.Fatalf("[LEDGER] create schema_migrations: %v", err)
	}
}

func discoverMigrations() []string {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		log.Fatalf("[DISCOVER] read %s: %v", migrationsDir, err)
	}

	seen := make(map[string]bool)
	var filenames []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := migrationVersion(entry.Name())
		if seen[version] {
			log.Fatalf("[DISCOVER] duplicate version %s", version)
		}
		seen[version] = true
		filenames = append(filenames, entry.Name())
	}
	sort.Strings(filenames)
	return filenames
}

func migrationVersion(filename string) string {
	version, _, ok := strings.Cut(filename, "_")
	if !ok {
		log.Fatalf("[DISCOVER] %s does not match NNN_description.sql", filename)
	}
	return version
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, filename string) {
	version := migrationVersion(filename)
	sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir, filename))
	if err != nil {
		log.Fatalf("[APPLY] read %s: %v", filename, err)
	}
	sum := sha256.Sum256(sqlBytes)
	checksum := hex.EncodeToString(sum[:])

	var applied string
	err = pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", version).Scan(&applied)
	switch {
	case err == nil:
		if applied != checksum {
			log.Fatalf("[APPLY] %s changed after being applied (checksum %s, recorded %s)", filename, checksum, applied)
		}
		log.Printf("[SKIP] %s", filename)
		return
	case err != pgx.ErrNoRows:
		log.Fatalf("[APPLY] query ledger for %s: %v", filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("[APPLY] begin transaction for %s: %v", filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		log.Fatalf("[APPLY] execute %s: %v", filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		version, filename, checksum); err != nil {
		log.Fatalf("[APPLY] record %s: %v", filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("[APPLY] commit %s: %v", filename, err)
	}
	log.Printf("[APPLY] %s", filename)
}
