package tinred

import (
	"context"
	"fmt"
	"time"

	"tinred-agent/internal/core"

	"github.com/shopspring/decimal"
)

// productRow is one product_agente_ai entry.
type productRow struct {
	Name      string `json:"pronom"`
	UnitPrice string `json:"provun"`
}

// Catalog fetches the user's product list. It satisfies core.CatalogSource.
// Rows with an unparseable price are skipped rather than failing the whole
// catalog.
func (c *Client) Catalog(ctx context.Context, phone string) ([]core.CatalogEntry, error) {
	payload := map[string]string{"telefono": normalizePhone(phone)}
	logCall("products", payload["telefono"])

	var rows []productRow
	if err := c.postJSON(ctx, pathProductList, c.cfg.Timeout, payload, &rows); err != nil {
		return nil, fmt.Errorf("product list: %w", err)
	}

	entries := make([]core.CatalogEntry, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		price, err := decimal.NewFromString(row.UnitPrice)
		if err != nil || price.IsNegative() {
			continue
		}
		entries = append(entries, core.CatalogEntry{Name: row.Name, UnitPrice: price})
	}
	return entries, nil
}

// historyRow is one record_agente_ai entry.
type historyRow struct {
	DocumentCode   string `json:"tdocod"`
	IdentityCode   string `json:"tdicod"`
	Serie          string `json:"cdaser"`
	Numero         string `json:"cdanum"`
	ClientName     string `json:"ccanom"`
	ClientDocument string `json:"ccandi"`
	EmittedAt      string `json:"ccafem"`
	Total          string `json:"cdevve"`
	IGV            string `json:"cdeigv"`
}

func (r historyRow) record(phone string) (core.EmissionRecord, bool) {
	total, err := decimal.NewFromString(r.Total)
	if err != nil {
		return core.EmissionRecord{}, false
	}
	docType := core.DocumentReceipt
	if r.DocumentCode == codeInvoice {
		docType = core.DocumentInvoice
	}
	rec := core.EmissionRecord{
		Phone:        phone,
		DocumentType: docType,
		ClientID:     r.ClientDocument,
		Total:        total,
		Currency:     core.DefaultCurrency,
	}
	if r.Serie != "" || r.Numero != "" {
		rec.DocumentNumber = r.Serie + "-" + r.Numero
	}
	if len(r.EmittedAt) >= 10 {
		if at, err := time.Parse("2006-01-02", r.EmittedAt[:10]); err == nil {
			rec.EmittedAt = at
		}
	}
	return rec, true
}

func (c *Client) history(ctx context.Context, phone string) ([]core.EmissionRecord, error) {
	payload := map[string]string{"telefono": normalizePhone(phone)}
	logCall("history", payload["telefono"])

	var rows []historyRow
	if err := c.postJSON(ctx, pathHistoryList, c.cfg.Timeout, payload, &rows); err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}

	records := make([]core.EmissionRecord, 0, len(rows))
	for _, row := range rows {
		if rec, ok := row.record(phone); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// RecentEmissions returns up to limit history entries, newest first as the
// API delivers them. Satisfies part of core.HistorySource.
func (c *Client) RecentEmissions(ctx context.Context, phone string, limit int) ([]core.EmissionRecord, error) {
	records, err := c.history(ctx, phone)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// HistoricalAverage is the mean total of the user's past emissions, the
// baseline the anomaly checker compares new totals against. Zero means no
// usable history.
func (c *Client) HistoricalAverage(ctx context.Context, phone string) (decimal.Decimal, error) {
	records, err := c.history(ctx, phone)
	if err != nil {
		return decimal.Zero, err
	}
	if len(records) == 0 {
		return decimal.Zero, nil
	}
	sum := decimal.Zero
	for _, rec := range records {
		sum = sum.Add(rec.Total)
	}
	return sum.Div(decimal.NewFromInt(int64(len(records)))).Round(2), nil
}
