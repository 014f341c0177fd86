package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Anomaly finding kinds.
const (
	FindingPriceDeviation = "price-deviation"
	FindingQuantity       = "quantity"
	FindingTotalMagnitude = "total-magnitude"
	FindingCatalogAbsence = "catalog-absence"
)

// AnomalyThresholds are the policy limits for the checker. Zero value is not
// usable; construct with DefaultAnomalyThresholds.
type AnomalyThresholds struct {
	// PriceDeviation is the relative deviation from the catalog price above
	// which a line item is flagged (0.5 = 50%).
	PriceDeviation decimal.Decimal
	// MaxQuantity is the per-line quantity above which a warning fires.
	MaxQuantity int
	// TotalMultiple flags the transaction when total > TotalMultiple × the
	// user's historical average amount.
	TotalMultiple decimal.Decimal
}

func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{
		PriceDeviation: decimal.NewFromFloat(0.5),
		MaxQuantity:    100,
		TotalMultiple:  decimal.NewFromInt(10),
	}
}

// AnomalyChecker evaluates a complete slot set against the catalog matches
// and the user's historical baseline. Pure: no locking, no side effects.
type AnomalyChecker struct {
	Thresholds AnomalyThresholds
}

func NewAnomalyChecker() *AnomalyChecker {
	return &AnomalyChecker{Thresholds: DefaultAnomalyThresholds()}
}

// Evaluate runs every check independently (no short-circuit) and returns a
// fresh report. historicalAverage <= 0 means no baseline is known and the
// total-magnitude check is skipped.
func (c *AnomalyChecker) Evaluate(slots Slots, historicalAverage decimal.Decimal) *AnomalyReport {
	report := &AnomalyReport{Overall: SeverityInfo}
	add := func(f Finding) {
		report.Findings = append(report.Findings, f)
		if f.Severity > report.Overall {
			report.Overall = f.Severity
		}
	}

	for _, li := range slots.LineItems {
		if li.Matched() && li.CatalogPrice.IsPositive() {
			dev := li.UnitPrice.Sub(li.CatalogPrice).Abs().Div(li.CatalogPrice)
			if dev.GreaterThan(c.Thresholds.PriceDeviation) {
				add(Finding{
					Kind:     FindingPriceDeviation,
					Severity: SeverityWarn,
					Detail: fmt.Sprintf("'%s' a %s difiere del catálogo (%s: %s)",
						li.Description, li.UnitPrice.StringFixed(2), li.CatalogName, li.CatalogPrice.StringFixed(2)),
				})
			}
		} else if !li.Matched() {
			add(Finding{
				Kind:     FindingCatalogAbsence,
				Severity: SeverityInfo,
				Detail:   fmt.Sprintf("'%s' no está en tu catálogo", li.Description),
			})
		}

		if li.Quantity > c.Thresholds.MaxQuantity {
			add(Finding{
				Kind:     FindingQuantity,
				Severity: SeverityWarn,
				Detail:   fmt.Sprintf("cantidad alta: %d unidades de '%s'", li.Quantity, li.Description),
			})
		}
	}

	if historicalAverage.IsPositive() {
		total := slots.Total()
		limit := historicalAverage.Mul(c.Thresholds.TotalMultiple)
		if total.GreaterThan(limit) {
			ratio := total.Div(historicalAverage).Round(1)
			add(Finding{
				Kind:     FindingTotalMagnitude,
				Severity: SeverityCritical,
				Detail: fmt.Sprintf("el total %s es %sx tu promedio histórico (%s)",
					total.StringFixed(2), ratio.String(), historicalAverage.StringFixed(2)),
			})
		}
	}

	return report
}
