package core_test

import (
	"testing"

	"tinred-agent/internal/core"

	"github.com/shopspring/decimal"
)

func matchedItem(desc string, qty int, price, catalogPrice int64) core.LineItem {
	return core.LineItem{
		Description:  desc,
		Quantity:     qty,
		UnitPrice:    decimal.NewFromInt(price),
		CatalogName:  desc,
		CatalogPrice: decimal.NewFromInt(catalogPrice),
	}
}

func findingKinds(r *core.AnomalyReport) map[string]core.Severity {
	kinds := map[string]core.Severity{}
	for _, f := range r.Findings {
		kinds[f.Kind] = f.Severity
	}
	return kinds
}

func TestAnomalyChecker_Evaluate(t *testing.T) {
	tests := []struct {
		name        string
		items       []core.LineItem
		average     int64
		wantKinds   []string
		wantOverall core.Severity
	}{
		{
			name:        "clean transaction",
			items:       []core.LineItem{matchedItem("laptop", 2, 2500, 2500)},
			average:     1000,
			wantKinds:   nil,
			wantOverall: core.SeverityInfo,
		},
		{
			name:        "price more than double catalog",
			items:       []core.LineItem{matchedItem("laptop", 1, 250, 100)},
			average:     1000,
			wantKinds:   []string{core.FindingPriceDeviation},
			wantOverall: core.SeverityWarn,
		},
		{
			name:        "price within 50 percent tolerance",
			items:       []core.LineItem{matchedItem("laptop", 1, 120, 100)},
			average:     1000,
			wantKinds:   nil,
			wantOverall: core.SeverityInfo,
		},
		{
			name: "unknown item is informational",
			items: []core.LineItem{{
				Description: "cemento",
				Quantity:    1,
				UnitPrice:   decimal.NewFromInt(50),
			}},
			average:     1000,
			wantKinds:   []string{core.FindingCatalogAbsence},
			wantOverall: core.SeverityInfo,
		},
		{
			name:        "quantity above limit",
			items:       []core.LineItem{matchedItem("cable", 150, 10, 10)},
			average:     100000,
			wantKinds:   []string{core.FindingQuantity},
			wantOverall: core.SeverityWarn,
		},
		{
			name:        "total far above history is critical",
			items:       []core.LineItem{matchedItem("laptop", 1, 5000, 5000)},
			average:     100,
			wantKinds:   []string{core.FindingTotalMagnitude},
			wantOverall: core.SeverityCritical,
		},
		{
			name:        "no history skips the magnitude check",
			items:       []core.LineItem{matchedItem("laptop", 1, 5000, 5000)},
			average:     0,
			wantKinds:   nil,
			wantOverall: core.SeverityInfo,
		},
	}

	checker := core.NewAnomalyChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := core.Slots{
				DocumentType:   core.DocumentReceipt,
				IdentityType:   core.IdentityNationalID,
				IdentityNumber: "12345678",
				LineItems:      tt.items,
			}
			report := checker.Evaluate(slots, decimal.NewFromInt(tt.average))

			kinds := findingKinds(report)
			if len(kinds) != len(tt.wantKinds) {
				t.Fatalf("got findings %v, want kinds %v", report.Findings, tt.wantKinds)
			}
			for _, k := range tt.wantKinds {
				if _, ok := kinds[k]; !ok {
					t.Errorf("missing finding kind %q in %v", k, report.Findings)
				}
			}
			if report.Overall != tt.wantOverall {
				t.Errorf("overall = %s, want %s", report.Overall, tt.wantOverall)
			}
		})
	}
}

func TestAnomalyChecker_AllChecksRun(t *testing.T) {
	// One transaction trips every check at once; no short-circuit.
	slots := core.Slots{
		DocumentType:   core.DocumentReceipt,
		IdentityType:   core.IdentityNationalID,
		IdentityNumber: "12345678",
		LineItems: []core.LineItem{
			matchedItem("laptop", 200, 250, 100),
			{Description: "cemento", Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
		},
	}

	report := core.NewAnomalyChecker().Evaluate(slots, decimal.NewFromInt(10))

	kinds := findingKinds(report)
	for _, want := range []string{
		core.FindingPriceDeviation,
		core.FindingQuantity,
		core.FindingCatalogAbsence,
		core.FindingTotalMagnitude,
	} {
		if _, ok := kinds[want]; !ok {
			t.Errorf("missing finding %q in %v", want, report.Findings)
		}
	}
	if report.Overall != core.SeverityCritical {
		t.Errorf("overall = %s, want critical", report.Overall)
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(core.SeverityInfo < core.SeverityWarn && core.SeverityWarn < core.SeverityCritical) {
		t.Fatal("severity levels out of order")
	}
}
