package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"tinred-agent/internal/core"
	"tinred-agent/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(migration)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE TABLE products, emissions`); err != nil {
		t.Fatalf("Failed to clean test tables: %v", err)
	}
	return pool
}

func TestStore_CatalogRoundtrip(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	s := store.New(pool)
	ctx := context.Background()
	phone := "51999888777"

	for _, e := range []core.CatalogEntry{
		{Name: "Laptop HP", UnitPrice: decimal.NewFromInt(2500)},
		{Name: "Monitor LG", UnitPrice: decimal.NewFromInt(800)},
	} {
		if err := s.UpsertProduct(ctx, phone, e); err != nil {
			t.Fatalf("UpsertProduct: %v", err)
		}
	}

	// Upsert with a new price replaces, not duplicates.
	if err := s.UpsertProduct(ctx, phone, core.CatalogEntry{Name: "Laptop HP", UnitPrice: decimal.NewFromInt(2600)}); err != nil {
		t.Fatalf("UpsertProduct update: %v", err)
	}

	entries, err := s.Catalog(ctx, phone)
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "Laptop HP" || !entries[0].UnitPrice.Equal(decimal.NewFromInt(2600)) {
		t.Errorf("entry 0 = %+v", entries[0])
	}

	// Other phones see nothing.
	other, err := s.Catalog(ctx, "51111222333")
	if err != nil {
		t.Fatalf("Catalog other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("catalog leaked across phones: %+v", other)
	}
}

func TestStore_EmissionHistory(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	s := store.New(pool)
	ctx := context.Background()
	phone := "51999888777"

	totals := []int64{500, 1000, 1500}
	for i, total := range totals {
		rec := core.EmissionRecord{
			Phone:          phone,
			DocumentType:   core.DocumentReceipt,
			DocumentNumber: "B001-0000000" + string(rune('1'+i)),
			ClientID:       "12345678",
			Total:          decimal.NewFromInt(total),
			Currency:       "PEN",
			ItemCount:      1,
			EmittedAt:      time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordEmission(ctx, rec); err != nil {
			t.Fatalf("RecordEmission: %v", err)
		}
	}

	records, err := s.RecentEmissions(ctx, phone, 2)
	if err != nil {
		t.Fatalf("RecentEmissions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].DocumentNumber != "B001-00000003" {
		t.Errorf("newest first expected, got %q", records[0].DocumentNumber)
	}

	avg, err := s.HistoricalAverage(ctx, phone)
	if err != nil {
		t.Fatalf("HistoricalAverage: %v", err)
	}
	if !avg.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("average = %s, want 1000", avg)
	}

	// No history means a zero baseline, not an error.
	avg, err = s.HistoricalAverage(ctx, "51111222333")
	if err != nil {
		t.Fatalf("HistoricalAverage empty: %v", err)
	}
	if !avg.IsZero() {
		t.Errorf("empty history average = %s, want 0", avg)
	}
}
