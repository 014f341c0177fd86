package core

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MergeConflict records a newly extracted value that disagreed with an
// already-populated slot and carried no correction marker. The old value is
// kept; the orchestrator turns the conflict into a disambiguation reply.
type MergeConflict struct {
	Field string
	Old   string
	New   string
}

// SlotRejection records a value refused at merge time (malformed identity
// length, non-positive quantity or price). The slot is left untouched.
type SlotRejection struct {
	Field  string
	Detail string
}

// ExtractResult is the outcome of one extraction pass.
type ExtractResult struct {
	Slots        Slots
	Found        []string
	Conflicts    []MergeConflict
	Rejections   []SlotRejection
	PendingItems []PendingItem
	// Correction is set when the utterance carried an explicit correction
	// marker ("no, es...", "corrijo", "cambiar a").
	Correction bool
}

// FoundAnything reports whether the pass captured at least one new value.
func (r ExtractResult) FoundAnything() bool {
	return len(r.Found) > 0 || len(r.PendingItems) > 0
}

var (
	reFactura     = regexp.MustCompile(`(?i)\bfacturas?\b`)
	reBoleta      = regexp.MustCompile(`(?i)\bboletas?\b`)
	reDNIExplicit = regexp.MustCompile(`(?i)\bDNI\s*[:.]?\s*(\d+)`)
	reRUCExplicit = regexp.MustCompile(`(?i)\bRUC\s*[:.]?\s*(\d+)`)
	reRUCLoose    = regexp.MustCompile(`(^|\D)([12]0\d{9})(\D|$)`)
	reDNILoose    = regexp.MustCompile(`(^|\D)(\d{8})(\D|$)`)
	reCorrection  = regexp.MustCompile(`(?i)\b(no,?\s+es|corrijo|corrige|cambiar\s+a|cambia\s+a|me\s+equivoqu[eé])\b`)
	reUSD         = regexp.MustCompile(`(?i)(\bd[oó]lar(es)?\b|\busd\b|\$)`)
	rePEN         = regexp.MustCompile(`(?i)(\bsol(es)?\b|\bpen\b|s/)`)

	// "2 laptops a 2500", "3 cables x 50", "2 camisas por 45.50"
	reItemQty = regexp.MustCompile(`(?i)(\d{1,4})\s*(?:[x×]\s*)?([a-záéíóúñü][a-záéíóúñü ]{1,30}?)\s+(?:a|@|por)\s+(?:pen|usd|s/|\$)?\s*(\d+(?:[.,]\d{1,2})?)`)
	// "laptop a 2500" — quantity defaults to 1
	reItemNoQty = regexp.MustCompile(`(?i)(?:^|[^\d\p{L}])([a-záéíóúñü]{3,25})\s+(?:a|@|por)\s+(?:pen|usd|s/|\$)?\s*(\d+(?:[.,]\d{1,2})?)`)
	// "2 laptops" with no price — becomes a pending item
	rePending = regexp.MustCompile(`(?i)(\d{1,3})\s+([a-záéíóúñü]{3,25})`)
)

// descStopwords are tokens the item patterns must never read as a product.
var descStopwords = map[string]bool{
	"factura": true, "boleta": true, "dni": true, "ruc": true,
	"para": true, "cliente": true, "documento": true, "soles": true,
	"dolares": true, "cada": true, "unidad": true, "emitir": true,
}

// numberWords maps spoken Spanish quantities to digits, mirroring what the
// audio transcription path produces.
var numberWords = []struct{ word, digit string }{
	{"un ", "1 "}, {"uno ", "1 "}, {"una ", "1 "},
	{"dos ", "2 "}, {"tres ", "3 "}, {"cuatro ", "4 "}, {"cinco ", "5 "},
	{"seis ", "6 "}, {"siete ", "7 "}, {"ocho ", "8 "}, {"nueve ", "9 "}, {"diez ", "10 "},
}

// Extractor turns raw text into partial slot updates and merges them into the
// current slot set. It never fails on malformed input: the worst case is an
// unchanged slot set, which the orchestrator turns into a re-prompt.
type Extractor struct {
	Matcher *CatalogMatcher
}

// NewExtractor returns an extractor with the default catalog matcher.
func NewExtractor() *Extractor {
	return &Extractor{Matcher: NewCatalogMatcher()}
}

// Extract applies the extraction rules in priority order (identity, items,
// currency) and merges the findings into current under the merge policy:
// new values fill empty slots; conflicting values replace only under an
// explicit correction marker, and are otherwise surfaced as conflicts.
func (e *Extractor) Extract(text string, current Slots, catalog []CatalogEntry) ExtractResult {
	res := ExtractResult{Slots: current, Correction: reCorrection.MatchString(text)}

	// Document type stated explicitly always beats length inference.
	var docType DocumentType
	if reFactura.MatchString(text) {
		docType = DocumentInvoice
	} else if reBoleta.MatchString(text) {
		docType = DocumentReceipt
	}

	idType, idNumber, idRejection := extractIdentity(text)
	if idRejection != nil {
		res.Rejections = append(res.Rejections, *idRejection)
	}

	// Identity number excised before item scanning so an 8-digit DNI is never
	// misread as quantity-plus-price.
	itemText := text
	if idNumber != "" {
		itemText = strings.Replace(itemText, idNumber, " ", 1)
	}
	items, pending, itemRejections := e.extractItems(itemText, catalog)
	res.Rejections = append(res.Rejections, itemRejections...)

	currency := ""
	if reUSD.MatchString(text) {
		currency = "USD"
	} else if rePEN.MatchString(text) {
		currency = "PEN"
	}

	e.mergeDocumentType(&res, docType, idType)
	e.mergeIdentity(&res, idType, idNumber)
	e.mergeItems(&res, items)
	e.mergeCurrency(&res, currency)
	res.PendingItems = pending

	return res
}

func extractIdentity(text string) (IdentityType, string, *SlotRejection) {
	if m := reDNIExplicit.FindStringSubmatch(text); m != nil {
		if len(m[1]) != 8 {
			return IdentityUnset, "", &SlotRejection{Field: "identityNumber",
				Detail: "un DNI tiene exactamente 8 dígitos"}
		}
		if n, _ := strconv.Atoi(m[1]); n < 1000000 {
			return IdentityUnset, "", &SlotRejection{Field: "identityNumber",
				Detail: "ese número no parece un DNI válido"}
		}
		return IdentityNationalID, m[1], nil
	}
	if m := reRUCExplicit.FindStringSubmatch(text); m != nil {
		if len(m[1]) != 11 || !reRUCLoose.MatchString(" "+m[1]+" ") {
			return IdentityUnset, "", &SlotRejection{Field: "identityNumber",
				Detail: "un RUC tiene 11 dígitos y empieza con 10 o 20"}
		}
		return IdentityTaxID, m[1], nil
	}
	if m := reRUCLoose.FindStringSubmatch(text); m != nil {
		return IdentityTaxID, m[2], nil
	}
	for _, m := range reDNILoose.FindAllStringSubmatch(text, -1) {
		if n, _ := strconv.Atoi(m[2]); n >= 1000000 {
			return IdentityNationalID, m[2], nil
		}
	}
	return IdentityUnset, "", nil
}

func (e *Extractor) extractItems(text string, catalog []CatalogEntry) ([]LineItem, []PendingItem, []SlotRejection) {
	lower := strings.ToLower(text)
	for _, nw := range numberWords {
		lower = strings.ReplaceAll(lower, nw.word, nw.digit)
	}

	var (
		items      []LineItem
		rejections []SlotRejection
		rejected   []string
		seen       = map[string]bool{}
	)

	appendItem := func(qtyStr, desc, priceStr string) {
		desc = strings.TrimSpace(desc)
		if desc == "" || descStopwords[desc] {
			return
		}
		qty, err := strconv.Atoi(qtyStr)
		if err != nil || len(qtyStr) >= 5 {
			return // digit run too long to be a quantity, likely part of a document
		}
		price, err := decimal.NewFromString(strings.ReplaceAll(priceStr, ",", "."))
		if err != nil {
			return
		}
		if qty <= 0 {
			rejections = append(rejections, SlotRejection{Field: "lineItems",
				Detail: "la cantidad debe ser mayor a cero"})
			rejected = append(rejected, desc)
			return
		}
		if !price.IsPositive() {
			rejections = append(rejections, SlotRejection{Field: "lineItems",
				Detail: "el precio debe ser mayor a cero"})
			rejected = append(rejected, desc)
			return
		}
		key := desc + "@" + price.String()
		if seen[key] {
			return
		}
		seen[key] = true
		li := LineItem{Description: desc, Quantity: qty, UnitPrice: price}
		if e.Matcher != nil {
			if entry, ok := e.Matcher.Match(desc, catalog); ok {
				li.CatalogName = entry.Name
				li.CatalogPrice = entry.UnitPrice
			}
		}
		items = append(items, li)
	}

	for _, m := range reItemQty.FindAllStringSubmatch(lower, -1) {
		appendItem(m[1], m[2], m[3])
	}
	for _, m := range reItemNoQty.FindAllStringSubmatch(lower, -1) {
		desc := strings.TrimSpace(m[1])
		// A description that already produced a rejection must not re-enter
		// through the quantity-1 fallback.
		if descStopwords[desc] || overlapsDesc(rejected, desc) {
			continue
		}
		if !coveredByItem(items, desc) {
			appendItem("1", m[1], m[2])
		}
	}

	var pending []PendingItem
	if len(items) == 0 {
		for _, m := range rePending.FindAllStringSubmatch(lower, -1) {
			desc := strings.TrimSpace(m[2])
			if descStopwords[desc] || overlapsDesc(rejected, desc) {
				continue
			}
			qty, err := strconv.Atoi(m[1])
			if err != nil || qty <= 0 {
				continue
			}
			pending = append(pending, PendingItem{Description: desc, Quantity: qty})
		}
	}

	return items, pending, rejections
}

// coveredByItem avoids double-capturing "2 laptops a 2500" as both a
// quantity triple and a no-quantity pair ending in the same description.
func coveredByItem(items []LineItem, desc string) bool {
	for _, li := range items {
		if overlapsDesc([]string{li.Description}, desc) {
			return true
		}
	}
	return false
}

// overlapsDesc reports whether desc suffix-overlaps any entry, the same span
// comparison coveredByItem applies. The no-quantity pattern captures only the
// last word of a multi-word description, so plain equality is not enough.
func overlapsDesc(descs []string, desc string) bool {
	for _, d := range descs {
		if strings.HasSuffix(d, desc) || strings.HasSuffix(desc, d) {
			return true
		}
	}
	return false
}

func (e *Extractor) mergeDocumentType(res *ExtractResult, explicit DocumentType, idType IdentityType) {
	// Inferred value from identity-number length; never overrides anything.
	inferred := DocumentUnset
	switch idType {
	case IdentityNationalID:
		inferred = DocumentReceipt
	case IdentityTaxID:
		inferred = DocumentInvoice
	}

	switch {
	case explicit != DocumentUnset:
		switch {
		case res.Slots.DocumentType == DocumentUnset,
			!res.Slots.DocumentTypeExplicit, // explicit beats prior inference
			res.Correction:
			if res.Slots.DocumentType != explicit {
				res.Found = append(res.Found, "documentType")
			}
			res.Slots.DocumentType = explicit
			res.Slots.DocumentTypeExplicit = true
		case res.Slots.DocumentType != explicit:
			res.Conflicts = append(res.Conflicts, MergeConflict{
				Field: "documentType",
				Old:   string(res.Slots.DocumentType),
				New:   string(explicit),
			})
		}
	case inferred != DocumentUnset && res.Slots.DocumentType == DocumentUnset:
		res.Slots.DocumentType = inferred
		res.Slots.DocumentTypeExplicit = false
		res.Found = append(res.Found, "documentType")
	}
}

func (e *Extractor) mergeIdentity(res *ExtractResult, idType IdentityType, idNumber string) {
	if idNumber == "" {
		return
	}
	switch {
	case res.Slots.IdentityNumber == "":
		res.Slots.IdentityType = idType
		res.Slots.IdentityNumber = idNumber
		res.Slots.ClientName = ""
		res.Slots.ClientValidated = false
		res.Found = append(res.Found, "identityNumber")
	case res.Slots.IdentityNumber == idNumber:
		// incidental re-mention, nothing to do
	case res.Correction:
		res.Slots.IdentityType = idType
		res.Slots.IdentityNumber = idNumber
		res.Slots.ClientName = ""
		res.Slots.ClientValidated = false
		res.Found = append(res.Found, "identityNumber")
	default:
		res.Conflicts = append(res.Conflicts, MergeConflict{
			Field: "identityNumber",
			Old:   res.Slots.IdentityNumber,
			New:   idNumber,
		})
	}
}

func (e *Extractor) mergeItems(res *ExtractResult, items []LineItem) {
	if len(items) == 0 {
		return
	}
	if res.Correction && len(res.Slots.LineItems) > 0 {
		res.Slots.LineItems = items
		res.Found = append(res.Found, "lineItems")
		return
	}
	existing := map[string]bool{}
	for _, li := range res.Slots.LineItems {
		existing[strings.ToLower(li.Description)+"@"+li.UnitPrice.String()] = true
	}
	added := false
	for _, li := range items {
		key := strings.ToLower(li.Description) + "@" + li.UnitPrice.String()
		if existing[key] {
			continue
		}
		existing[key] = true
		res.Slots.LineItems = append(res.Slots.LineItems, li)
		added = true
	}
	if added {
		res.Found = append(res.Found, "lineItems")
	}
}

func (e *Extractor) mergeCurrency(res *ExtractResult, currency string) {
	if currency == "" {
		return
	}
	if res.Slots.Currency != currency {
		res.Found = append(res.Found, "currency")
	}
	// Currency tokens always override the default; stating a currency is
	// explicit by nature.
	res.Slots.Currency = currency
}
