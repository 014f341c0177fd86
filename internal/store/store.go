// Package store is the pgx-backed repository for the product catalog and the
// local emission history.
package store

import (
	"context"
	"fmt"

	"tinred-agent/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store implements core.CatalogSource, core.HistorySource and
// core.EmissionRecorder on top of Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Catalog returns the user's products ordered by name.
func (s *Store) Catalog(ctx context.Context, phone string) ([]core.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, unit_price FROM products WHERE phone = $1 ORDER BY name`, phone)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var entries []core.CatalogEntry
	for rows.Next() {
		var e core.CatalogEntry
		if err := rows.Scan(&e.Name, &e.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertProduct inserts or updates one catalog entry. Used by cmd/seed.
func (s *Store) UpsertProduct(ctx context.Context, phone string, entry core.CatalogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (phone, name, unit_price)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone, name) DO UPDATE SET unit_price = EXCLUDED.unit_price`,
		phone, entry.Name, entry.UnitPrice)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// RecordEmission appends one emitted document to the history.
func (s *Store) RecordEmission(ctx context.Context, rec core.EmissionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO emissions (phone, document_type, document_number, client_id, total, currency, pdf_url, item_count, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.Phone, string(rec.DocumentType), rec.DocumentNumber, rec.ClientID,
		rec.Total, rec.Currency, rec.PDFURL, rec.ItemCount, rec.EmittedAt)
	if err != nil {
		return fmt.Errorf("insert emission: %w", err)
	}
	return nil
}

// RecentEmissions returns up to limit emissions, newest first.
func (s *Store) RecentEmissions(ctx context.Context, phone string, limit int) ([]core.EmissionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT document_type, document_number, client_id, total, currency, pdf_url, item_count, emitted_at
		FROM emissions WHERE phone = $1
		ORDER BY emitted_at DESC
		LIMIT $2`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("query emissions: %w", err)
	}
	defer rows.Close()

	var records []core.EmissionRecord
	for rows.Next() {
		rec := core.EmissionRecord{Phone: phone}
		var docType string
		if err := rows.Scan(&docType, &rec.DocumentNumber, &rec.ClientID, &rec.Total,
			&rec.Currency, &rec.PDFURL, &rec.ItemCount, &rec.EmittedAt); err != nil {
			return nil, fmt.Errorf("scan emission: %w", err)
		}
		rec.DocumentType = core.DocumentType(docType)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HistoricalAverage is the mean emission total for the phone; zero when the
// history is empty.
func (s *Store) HistoricalAverage(ctx context.Context, phone string) (decimal.Decimal, error) {
	var avg decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(total), 0) FROM emissions WHERE phone = $1`, phone).Scan(&avg)
	if err != nil {
		return decimal.Zero, fmt.Errorf("average emission total: %w", err)
	}
	return avg.Round(2), nil
}
