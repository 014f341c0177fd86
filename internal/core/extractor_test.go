package core_test

import (
	"testing"

	"tinred-agent/internal/core"

	"github.com/shopspring/decimal"
)

func TestExtractor_IdentityAndDocumentType(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantIDType  core.IdentityType
		wantID      string
		wantDocType core.DocumentType
	}{
		{
			name:        "explicit DNI infers boleta",
			text:        "DNI 12345678",
			wantIDType:  core.IdentityNationalID,
			wantID:      "12345678",
			wantDocType: core.DocumentReceipt,
		},
		{
			name:        "explicit RUC infers factura",
			text:        "RUC 20161541991",
			wantIDType:  core.IdentityTaxID,
			wantID:      "20161541991",
			wantDocType: core.DocumentInvoice,
		},
		{
			name:        "bare 11-digit RUC pattern",
			text:        "emite para 10456789012 por favor",
			wantIDType:  core.IdentityTaxID,
			wantID:      "10456789012",
			wantDocType: core.DocumentInvoice,
		},
		{
			name:        "bare 8-digit DNI pattern",
			text:        "para el cliente 87654321",
			wantIDType:  core.IdentityNationalID,
			wantID:      "87654321",
			wantDocType: core.DocumentReceipt,
		},
		{
			name:        "explicit boleta beats RUC inference",
			text:        "boleta para RUC 20161541991",
			wantIDType:  core.IdentityTaxID,
			wantID:      "20161541991",
			wantDocType: core.DocumentReceipt,
		},
	}

	ex := core.NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ex.Extract(tt.text, core.Slots{}, nil)
			if len(res.Rejections) > 0 {
				t.Fatalf("unexpected rejection: %+v", res.Rejections)
			}
			if res.Slots.IdentityType != tt.wantIDType {
				t.Errorf("identity type = %q, want %q", res.Slots.IdentityType, tt.wantIDType)
			}
			if res.Slots.IdentityNumber != tt.wantID {
				t.Errorf("identity number = %q, want %q", res.Slots.IdentityNumber, tt.wantID)
			}
			if res.Slots.DocumentType != tt.wantDocType {
				t.Errorf("document type = %q, want %q", res.Slots.DocumentType, tt.wantDocType)
			}
		})
	}
}

func TestExtractor_IdentityRejections(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"DNI too short", "DNI 123"},
		{"DNI too long", "DNI 123456789012"},
		{"RUC wrong length", "RUC 123"},
		{"RUC wrong prefix", "RUC 30161541991"},
	}

	ex := core.NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ex.Extract(tt.text, core.Slots{}, nil)
			if len(res.Rejections) == 0 {
				t.Fatal("expected a rejection, got none")
			}
			if res.Slots.IdentityNumber != "" {
				t.Errorf("rejected value leaked into slots: %q", res.Slots.IdentityNumber)
			}
		})
	}
}

func TestExtractor_ExplicitBeatsPriorInference(t *testing.T) {
	ex := core.NewExtractor()

	// Turn 1: DNI alone infers boleta.
	res := ex.Extract("DNI 12345678", core.Slots{}, nil)
	if res.Slots.DocumentType != core.DocumentReceipt || res.Slots.DocumentTypeExplicit {
		t.Fatalf("expected inferred receipt, got %q explicit=%v", res.Slots.DocumentType, res.Slots.DocumentTypeExplicit)
	}

	// Turn 2: explicit "factura" replaces the inferred type without conflict.
	res = ex.Extract("mejor hazme una factura", res.Slots, nil)
	if len(res.Conflicts) > 0 {
		t.Fatalf("explicit over inferred must not conflict: %+v", res.Conflicts)
	}
	if res.Slots.DocumentType != core.DocumentInvoice || !res.Slots.DocumentTypeExplicit {
		t.Errorf("document type = %q explicit=%v, want invoice explicit", res.Slots.DocumentType, res.Slots.DocumentTypeExplicit)
	}
}

func TestExtractor_ExplicitConflictNeedsCorrection(t *testing.T) {
	ex := core.NewExtractor()

	res := ex.Extract("quiero una factura", core.Slots{}, nil)
	if res.Slots.DocumentType != core.DocumentInvoice {
		t.Fatalf("setup: document type = %q", res.Slots.DocumentType)
	}

	// Plain contradiction surfaces a conflict and keeps the old value.
	res2 := ex.Extract("boleta", res.Slots, nil)
	if len(res2.Conflicts) != 1 || res2.Conflicts[0].Field != "documentType" {
		t.Fatalf("expected documentType conflict, got %+v", res2.Conflicts)
	}
	if res2.Slots.DocumentType != core.DocumentInvoice {
		t.Errorf("conflicting value replaced the slot: %q", res2.Slots.DocumentType)
	}

	// A correction marker authorizes the replacement.
	res3 := ex.Extract("no, es boleta", res.Slots, nil)
	if len(res3.Conflicts) > 0 {
		t.Fatalf("correction must not conflict: %+v", res3.Conflicts)
	}
	if res3.Slots.DocumentType != core.DocumentReceipt {
		t.Errorf("document type = %q, want receipt after correction", res3.Slots.DocumentType)
	}
}

func TestExtractor_IdentityCorrection(t *testing.T) {
	ex := core.NewExtractor()
	current := core.Slots{
		IdentityType:    core.IdentityNationalID,
		IdentityNumber:  "12345678",
		ClientName:      "JUAN PEREZ",
		ClientValidated: true,
	}

	t.Run("conflict without marker", func(t *testing.T) {
		res := ex.Extract("es para 87654321", current, nil)
		if len(res.Conflicts) != 1 || res.Conflicts[0].Field != "identityNumber" {
			t.Fatalf("expected identityNumber conflict, got %+v", res.Conflicts)
		}
		if res.Slots.IdentityNumber != "12345678" {
			t.Errorf("old identity replaced without correction: %q", res.Slots.IdentityNumber)
		}
	})

	t.Run("correction replaces and clears validation", func(t *testing.T) {
		res := ex.Extract("no, es 87654321", current, nil)
		if len(res.Conflicts) > 0 {
			t.Fatalf("correction must not conflict: %+v", res.Conflicts)
		}
		if res.Slots.IdentityNumber != "87654321" {
			t.Errorf("identity = %q, want 87654321", res.Slots.IdentityNumber)
		}
		if res.Slots.ClientValidated || res.Slots.ClientName != "" {
			t.Error("stale client validation survived an identity correction")
		}
	})

	t.Run("re-mention of same number is silent", func(t *testing.T) {
		res := ex.Extract("el dni es 12345678", current, nil)
		if len(res.Conflicts) > 0 {
			t.Fatalf("same value re-mention conflicted: %+v", res.Conflicts)
		}
		if !res.Slots.ClientValidated {
			t.Error("re-mention cleared the validation flag")
		}
	})
}

func TestExtractor_Items(t *testing.T) {
	type wantItem struct {
		desc  string
		qty   int
		price string
	}
	tests := []struct {
		name string
		text string
		want []wantItem
	}{
		{
			name: "quantity desc price",
			text: "2 laptops a 2500",
			want: []wantItem{{"laptops", 2, "2500"}},
		},
		{
			name: "price with decimals and por",
			text: "3 camisas por 45.50",
			want: []wantItem{{"camisas", 3, "45.5"}},
		},
		{
			name: "multiple items one message",
			text: "2 camisas a 50 y 3 pantalones a 80",
			want: []wantItem{{"camisas", 2, "50"}, {"pantalones", 3, "80"}},
		},
		{
			name: "no quantity defaults to one",
			text: "laptop a 2500",
			want: []wantItem{{"laptop", 1, "2500"}},
		},
		{
			name: "spanish number word",
			text: "dos laptops a 2500",
			want: []wantItem{{"laptops", 2, "2500"}},
		},
	}

	ex := core.NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ex.Extract(tt.text, core.Slots{}, nil)
			if len(res.Slots.LineItems) != len(tt.want) {
				t.Fatalf("got %d items, want %d: %+v", len(res.Slots.LineItems), len(tt.want), res.Slots.LineItems)
			}
			for i, w := range tt.want {
				li := res.Slots.LineItems[i]
				if li.Description != w.desc || li.Quantity != w.qty {
					t.Errorf("item %d = %d %q, want %d %q", i, li.Quantity, li.Description, w.qty, w.desc)
				}
				if want, _ := decimal.NewFromString(w.price); !li.UnitPrice.Equal(want) {
					t.Errorf("item %d price = %s, want %s", i, li.UnitPrice, w.price)
				}
			}
		})
	}
}

func TestExtractor_IdentityNotMisreadAsItem(t *testing.T) {
	ex := core.NewExtractor()
	res := ex.Extract("boleta para DNI 12345678, 2 laptops a 2500", core.Slots{}, nil)

	if res.Slots.IdentityNumber != "12345678" {
		t.Fatalf("identity = %q", res.Slots.IdentityNumber)
	}
	if len(res.Slots.LineItems) != 1 {
		t.Fatalf("got %d items, want 1: %+v", len(res.Slots.LineItems), res.Slots.LineItems)
	}
	if li := res.Slots.LineItems[0]; li.Description != "laptops" || li.Quantity != 2 {
		t.Errorf("item = %d %q, want 2 laptops", li.Quantity, li.Description)
	}
}

func TestExtractor_PendingItemWithoutPrice(t *testing.T) {
	ex := core.NewExtractor()
	res := ex.Extract("2 laptops", core.Slots{}, nil)

	if len(res.Slots.LineItems) != 0 {
		t.Fatalf("priceless mention became a line item: %+v", res.Slots.LineItems)
	}
	if len(res.PendingItems) != 1 {
		t.Fatalf("got %d pending items, want 1", len(res.PendingItems))
	}
	if p := res.PendingItems[0]; p.Description != "laptops" || p.Quantity != 2 {
		t.Errorf("pending = %d %q, want 2 laptops", p.Quantity, p.Description)
	}
}

func TestExtractor_ItemRejections(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"zero quantity", "0 laptops a 2500"},
		{"zero price", "2 laptops a 0"},
		{"zero quantity multi-word", "0 cables usb a 50"},
	}
	ex := core.NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ex.Extract(tt.text, core.Slots{}, nil)
			if len(res.Rejections) == 0 {
				t.Fatal("invalid item accepted")
			}
			if len(res.Slots.LineItems) != 0 {
				t.Errorf("rejected item leaked into slots: %+v", res.Slots.LineItems)
			}
			if len(res.PendingItems) != 0 {
				t.Errorf("rejected item leaked as pending: %+v", res.PendingItems)
			}
		})
	}
}

func TestExtractor_ItemsAppendAcrossTurns(t *testing.T) {
	ex := core.NewExtractor()

	res := ex.Extract("2 camisas a 50", core.Slots{}, nil)
	res = ex.Extract("3 pantalones a 80", res.Slots, nil)
	if len(res.Slots.LineItems) != 2 {
		t.Fatalf("got %d items, want 2 after append", len(res.Slots.LineItems))
	}

	// A duplicated message must not duplicate items.
	res = ex.Extract("3 pantalones a 80", res.Slots, nil)
	if len(res.Slots.LineItems) != 2 {
		t.Errorf("duplicate message added items: %d", len(res.Slots.LineItems))
	}

	// A corrected list replaces, not appends.
	res = ex.Extract("corrijo, 1 camisa a 50", res.Slots, nil)
	if len(res.Slots.LineItems) != 1 {
		t.Fatalf("correction did not replace the list: %+v", res.Slots.LineItems)
	}
	if res.Slots.LineItems[0].Quantity != 1 {
		t.Errorf("quantity = %d, want 1", res.Slots.LineItems[0].Quantity)
	}
}

func TestExtractor_Currency(t *testing.T) {
	ex := core.NewExtractor()

	res := ex.Extract("2 laptops a 2500 dolares", core.Slots{}, nil)
	if res.Slots.Currency != "USD" {
		t.Errorf("currency = %q, want USD", res.Slots.Currency)
	}

	res = ex.Extract("en soles mejor", res.Slots, nil)
	if res.Slots.Currency != "PEN" {
		t.Errorf("currency = %q, want PEN after restatement", res.Slots.Currency)
	}
}

func TestExtractor_CatalogMatchOnExtraction(t *testing.T) {
	catalog := []core.CatalogEntry{
		{Name: "Laptop HP", UnitPrice: decimal.NewFromInt(2500)},
		{Name: "Monitor LG", UnitPrice: decimal.NewFromInt(800)},
	}
	ex := core.NewExtractor()

	res := ex.Extract("2 laptops a 2500", core.Slots{}, catalog)
	if len(res.Slots.LineItems) != 1 {
		t.Fatalf("got %d items", len(res.Slots.LineItems))
	}
	li := res.Slots.LineItems[0]
	if !li.Matched() || li.CatalogName != "Laptop HP" {
		t.Errorf("catalog match = %q, want Laptop HP", li.CatalogName)
	}
	if !li.CatalogPrice.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("catalog price = %s, want 2500", li.CatalogPrice)
	}
}
