package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType distinguishes the two legally distinct Peruvian sale documents.
// A boleta (receipt) accepts DNI or RUC; a factura (invoice) requires RUC.
type DocumentType string

const (
	DocumentUnset   DocumentType = ""
	DocumentReceipt DocumentType = "receipt" // boleta
	DocumentInvoice DocumentType = "invoice" // factura
)

// IdentityType is the kind of customer identity document.
type IdentityType string

const (
	IdentityUnset      IdentityType = ""
	IdentityNationalID IdentityType = "national-id" // DNI, 8 digits
	IdentityTaxID      IdentityType = "tax-id"      // RUC, 11 digits starting 10 or 20
)

// IGVRate is the Peruvian sales tax applied on top of the subtotal.
var IGVRate = decimal.NewFromFloat(0.18)

// LineItem is one product line of the request being built.
// CatalogName/CatalogPrice are filled when the description fuzzy-matches
// a catalog entry; an unmatched item keeps them zero-valued.
type LineItem struct {
	Description  string
	Quantity     int
	UnitPrice    decimal.Decimal
	CatalogName  string
	CatalogPrice decimal.Decimal
}

// Subtotal returns Quantity × UnitPrice.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Matched reports whether the item was matched against the catalog.
func (li LineItem) Matched() bool {
	return li.CatalogName != ""
}

// PendingItem is a product mentioned without a price; the conversation asks
// for the unit price before it becomes a LineItem.
type PendingItem struct {
	Description string
	Quantity    int
}

// Slots is the accumulating extraction target filled across turns.
type Slots struct {
	DocumentType DocumentType
	// DocumentTypeExplicit is set when the user named the document type
	// ("factura"/"boleta") rather than it being inferred from the identity
	// number length. Explicit statements win over inference.
	DocumentTypeExplicit bool
	IdentityType         IdentityType
	IdentityNumber       string
	// ClientName is filled when the identity number was validated against
	// the client directory.
	ClientName      string
	ClientValidated bool
	LineItems       []LineItem
	Currency        string
}

// DefaultCurrency applies unless the user states another currency.
const DefaultCurrency = "PEN"

// Complete reports whether every required slot for the chosen document type
// is populated.
func (s Slots) Complete() bool {
	return s.DocumentType != DocumentUnset &&
		s.IdentityType != IdentityUnset &&
		s.IdentityNumber != "" &&
		len(s.LineItems) > 0
}

// Missing returns the unfilled required slots in prompt priority order:
// document/identity first, then line items.
func (s Slots) Missing() []string {
	var missing []string
	if s.DocumentType == DocumentUnset {
		missing = append(missing, "tipo_documento")
	}
	if s.IdentityType == IdentityUnset || s.IdentityNumber == "" {
		missing = append(missing, "identificacion_cliente")
	}
	if len(s.LineItems) == 0 {
		missing = append(missing, "productos")
	}
	return missing
}

// Subtotal is the sum of line subtotals, before tax.
func (s Slots) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range s.LineItems {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Tax is the IGV computed on the subtotal.
func (s Slots) Tax() decimal.Decimal {
	return s.Subtotal().Mul(IGVRate).Round(2)
}

// Total is subtotal plus tax.
func (s Slots) Total() decimal.Decimal {
	return s.Subtotal().Add(s.Tax())
}

// CurrencyOrDefault returns the stated currency or PEN.
func (s Slots) CurrencyOrDefault() string {
	if s.Currency == "" {
		return DefaultCurrency
	}
	return s.Currency
}

// State is the conversation state of a session.
type State string

const (
	StateIdle                 State = "IDLE"
	StateCollecting           State = "COLLECTING"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	// StateEmitting is transient: it only exists while the emission call is
	// outstanding, and the per-session lock prevents any other turn from
	// observing it.
	StateEmitting State = "EMITTING"
)

// Session holds the per-phone conversation state. It is owned by the
// SessionStore; the orchestrator borrows it for the duration of one message
// under the store's per-phone lock.
type Session struct {
	Phone string
	State State
	Slots Slots

	// PendingReport is the anomaly report attached when the slot set reached
	// AWAITING_CONFIRMATION. Replaced, never mutated.
	PendingReport *AnomalyReport

	// IdempotencyToken is derived from the slot set the first time it reaches
	// AWAITING_CONFIRMATION; duplicate confirmations reuse it.
	IdempotencyToken string

	// CriticalAcknowledged is set after the user has been shown a critical
	// anomaly warning; only the override phrase then triggers emission.
	CriticalAcknowledged bool

	// PendingItems are products mentioned without a price.
	PendingItems []PendingItem

	// AwaitingIdentityRetry is set after the client directory rejected the
	// identity number; the next message is read as a corrected document.
	AwaitingIdentityRetry bool

	// PriorExpired marks a session recreated after inactivity expiry wiped
	// accumulated slots; the next reply mentions the restart once.
	PriorExpired bool

	// LastEmission remembers the most recent successful emission so a
	// duplicated confirmation message replays the document number instead of
	// reading as a fresh conversation start.
	LastEmission *EmissionResult

	LastActivity time.Time
}

// ResetEmission clears all emission-related state, returning the session to
// IDLE with empty slots. Used on cancel, success, and expiry.
func (s *Session) ResetEmission() {
	s.State = StateIdle
	s.Slots = Slots{}
	s.PendingReport = nil
	s.IdempotencyToken = ""
	s.CriticalAcknowledged = false
	s.PendingItems = nil
	s.AwaitingIdentityRetry = false
}

// HasEmissionData reports whether any emission slot has been captured.
func (s *Session) HasEmissionData() bool {
	return s.Slots.DocumentType != DocumentUnset ||
		s.Slots.IdentityNumber != "" ||
		len(s.Slots.LineItems) > 0 ||
		len(s.PendingItems) > 0
}

// Severity grades an anomaly finding. Ordered: info < warn < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Finding is one anomaly detected on a complete slot set.
type Finding struct {
	Kind     string
	Severity Severity
	Detail   string
}

// AnomalyReport is the severity-graded result of evaluating a complete slot
// set. Created fresh on each evaluation and never mutated.
type AnomalyReport struct {
	Findings []Finding
	Overall  Severity
}

// CatalogEntry is immutable reference data for one product.
type CatalogEntry struct {
	Name      string
	UnitPrice decimal.Decimal
}

// EmissionStatus is the outcome class of a confirmation.
type EmissionStatus string

const (
	EmissionSuccess   EmissionStatus = "success"
	EmissionDuplicate EmissionStatus = "duplicate"
	EmissionFailed    EmissionStatus = "failed"
)

// ErrorKind classifies a terminal emission failure.
type ErrorKind string

const (
	ErrorNone       ErrorKind = ""
	ErrorNetwork    ErrorKind = "network"
	ErrorRejected   ErrorKind = "rejected-by-authority"
	ErrorValidation ErrorKind = "validation"
)

// EmissionResult is handed to the orchestrator for reply formatting; the core
// never persists it.
type EmissionResult struct {
	Status         EmissionStatus
	DocumentNumber string
	PDFURL         string
	ErrorKind      ErrorKind
}

// EmissionRecord is one emitted document, kept in the emission history.
type EmissionRecord struct {
	Phone          string
	DocumentType   DocumentType
	DocumentNumber string
	ClientID       string
	Total          decimal.Decimal
	Currency       string
	PDFURL         string
	ItemCount      int
	EmittedAt      time.Time
}
