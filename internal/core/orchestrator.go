package core

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ClientDirectory validates a customer identity number against the tax
// authority's registry and returns the registered name.
type ClientDirectory interface {
	LookupClient(ctx context.Context, phone, identityNumber string) (name string, found bool, err error)
}

// HistorySource supplies the user's emission history baseline.
type HistorySource interface {
	HistoricalAverage(ctx context.Context, phone string) (decimal.Decimal, error)
	RecentEmissions(ctx context.Context, phone string, limit int) ([]EmissionRecord, error)
}

// QuestionAnswerer handles free-form questions that are not invoicing
// commands. Typically LLM-backed; the orchestrator only consumes text.
type QuestionAnswerer interface {
	AnswerGeneralQuestion(ctx context.Context, text string, catalog []CatalogEntry) (string, error)
}

// Orchestrator composes the core per incoming message. It is the single entry
// point of the conversational emission state machine.
type Orchestrator struct {
	sessions    *SessionStore
	extractor   *Extractor
	checker     *AnomalyChecker
	coordinator *EmissionCoordinator
	classifier  IntentClassifier

	catalog   CatalogSource
	history   HistorySource
	directory ClientDirectory
	answerer  QuestionAnswerer

	// MinConfidence is the classifier floor below which the orchestrator asks
	// a clarifying question instead of transitioning.
	MinConfidence float64
}

// OrchestratorDeps collects the collaborators; optional ones may be nil and
// their features degrade gracefully.
type OrchestratorDeps struct {
	Sessions    *SessionStore
	Extractor   *Extractor
	Checker     *AnomalyChecker
	Coordinator *EmissionCoordinator
	Classifier  IntentClassifier
	Catalog     CatalogSource
	History     HistorySource
	Directory   ClientDirectory
	Answerer    QuestionAnswerer
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		sessions:      deps.Sessions,
		extractor:     deps.Extractor,
		checker:       deps.Checker,
		coordinator:   deps.Coordinator,
		classifier:    deps.Classifier,
		catalog:       deps.Catalog,
		history:       deps.History,
		directory:     deps.Directory,
		answerer:      deps.Answerer,
		MinConfidence: 0.6,
	}
	if o.sessions == nil {
		o.sessions = NewSessionStore(0)
	}
	if o.extractor == nil {
		o.extractor = NewExtractor()
	}
	if o.checker == nil {
		o.checker = NewAnomalyChecker()
	}
	if o.classifier == nil {
		o.classifier = NewRuleClassifier()
	}
	return o
}

// HandleMessage processes one user message and returns the reply. All error
// classes are scoped to the turn: the worst outcome is an apologetic reply,
// never a propagated failure.
func (o *Orchestrator) HandleMessage(ctx context.Context, phone, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "No recibí ningún mensaje. ¿En qué puedo ayudarte?"
	}

	session, release := o.sessions.Acquire(phone)
	defer release()

	var prefix string
	if session.PriorExpired {
		prefix = "Tu sesión anterior venció por inactividad, empezamos de nuevo.\n\n"
		session.PriorExpired = false
	}

	intent, confidence := o.classifier.Classify(text, session)
	log.Printf("conversation %s: intent=%s conf=%.2f state=%s", session.Phone, intent, confidence, session.State)

	return prefix + o.route(ctx, session, text, intent, confidence)
}

func (o *Orchestrator) route(ctx context.Context, session *Session, text string, intent Intent, confidence float64) string {
	// With a summary pending, asking for the observations lists every
	// finding, info ones included; the summary itself only shows warnings.
	if session.State == StateAwaitingConfirmation && reBreakdown.MatchString(text) {
		return o.findingsBreakdown(session)
	}

	switch intent {
	case IntentCancel:
		session.ResetEmission()
		return "❌ Operación cancelada.\n\n¿Qué más necesitas?\n📄 Factura | 🧾 Boleta | 📊 Historial"

	case IntentConfirm:
		if session.State == StateAwaitingConfirmation {
			return o.handleConfirmation(ctx, session, text)
		}

	case IntentGreeting:
		if !session.HasEmissionData() {
			return o.greeting(ctx, session)
		}

	case IntentQueryProducts:
		if !session.HasEmissionData() {
			return o.listProducts(ctx, session)
		}

	case IntentQueryHistory:
		return o.listHistory(ctx, session)

	case IntentGeneralQuestion:
		return o.answerQuestion(ctx, session, text)
	}

	// A duplicated "sí" after a successful emission replays the document
	// number instead of opening a fresh conversation.
	if session.State == StateIdle && session.LastEmission != nil && IsAffirmative(text) {
		replay := *session.LastEmission
		replay.Status = EmissionDuplicate
		return o.formatResult(session, replay)
	}

	if confidence < o.MinConfidence && !session.HasEmissionData() {
		// Below the floor nothing transitions; ask instead of guessing.
		return "No te entendí bien. ¿Quieres emitir una 📄 Factura o 🧾 Boleta, ver tus 📦 productos o tu 📊 historial?"
	}

	return o.collect(ctx, session, text)
}

// collect runs the extraction/merge pipeline and advances the state machine
// toward AWAITING_CONFIRMATION.
func (o *Orchestrator) collect(ctx context.Context, session *Session, text string) string {
	entries := o.catalogEntries(ctx, session.Phone)

	res := o.extractor.Extract(text, session.Slots, entries)

	if len(res.Rejections) > 0 {
		// Rejected values never touch the slots; reply with the first
		// corrective detail so the user can fix exactly that.
		return "⚠️ " + res.Rejections[0].Detail + ". Inténtalo de nuevo."
	}

	// The merge already kept the old value for any disputed slot; persisting
	// here keeps the rest of the message's values even when a conflict stops
	// the turn for disambiguation.
	session.Slots = res.Slots

	if len(res.Conflicts) > 0 {
		return o.disambiguate(res.Conflicts[0])
	}

	// A price-less mention ("2 laptops") parks as pending until a price
	// arrives; a bare amount in the next message completes it.
	if len(res.PendingItems) > 0 && !contains(res.Found, "lineItems") {
		session.PendingItems = res.PendingItems
		p := res.PendingItems[0]
		session.State = StateCollecting
		return fmt.Sprintf("📝 %d %s\n\n¿Precio unitario?", p.Quantity, p.Description)
	}
	if len(session.PendingItems) > 0 && !contains(res.Found, "lineItems") {
		if price, ok := extractBarePrice(text); ok {
			for _, p := range session.PendingItems {
				li := LineItem{Description: p.Description, Quantity: p.Quantity, UnitPrice: price}
				if entry, matched := o.extractor.Matcher.Match(p.Description, entries); matched {
					li.CatalogName = entry.Name
					li.CatalogPrice = entry.UnitPrice
				}
				session.Slots.LineItems = append(session.Slots.LineItems, li)
			}
			session.PendingItems = nil
		}
	}

	if !res.FoundAnything() && !session.HasEmissionData() {
		return "¿En qué te ayudo?\n\n📄 Emitir Factura\n🧾 Emitir Boleta\n📦 Ver productos\n📊 Historial"
	}
	if session.AwaitingIdentityRetry && !contains(res.Found, "identityNumber") {
		return "⚠️ Sigo esperando un documento válido.\n💡 DNI: 8 dígitos | RUC: 11 dígitos"
	}
	session.State = StateCollecting

	// Identity numbers are validated against the authority registry before
	// the summary; an unknown document prompts re-entry instead of emitting
	// against a ghost client.
	if reply, blocked := o.validateClient(ctx, session); blocked {
		return reply
	}

	if session.Slots.Complete() {
		return o.prepareConfirmation(ctx, session)
	}

	return o.promptMissing(session)
}

func (o *Orchestrator) disambiguate(c MergeConflict) string {
	switch c.Field {
	case "documentType":
		return fmt.Sprintf("Ya tenía %s y ahora mencionas %s. ¿Cuál emitimos? Si quieres cambiar, dime \"corrijo, es %s\".",
			documentName(DocumentType(c.Old)), documentName(DocumentType(c.New)), documentName(DocumentType(c.New)))
	case "identityNumber":
		return fmt.Sprintf("Ya tengo el documento %s y ahora veo %s. ¿Cuál uso? Para cambiarlo dime \"corrijo, es %s\".",
			c.Old, c.New, c.New)
	default:
		return fmt.Sprintf("Tengo %s registrado como %s y ahora veo %s. ¿Cuál mantengo?", c.Field, c.Old, c.New)
	}
}

// validateClient checks the captured identity number against the directory.
// Returns (reply, true) when the turn must stop for a corrected document.
func (o *Orchestrator) validateClient(ctx context.Context, session *Session) (string, bool) {
	if o.directory == nil || session.Slots.IdentityNumber == "" || session.Slots.ClientValidated {
		return "", false
	}

	name, found, err := o.directory.LookupClient(ctx, session.Phone, session.Slots.IdentityNumber)
	if err != nil {
		// A registry hiccup must not kill the conversation; continue
		// unvalidated and let the authority decide at emission time.
		log.Printf("conversation %s: client lookup failed: %v", session.Phone, err)
		return "", false
	}
	if found {
		session.Slots.ClientValidated = true
		session.Slots.ClientName = name
		session.AwaitingIdentityRetry = false
		return "", false
	}

	session.AwaitingIdentityRetry = true
	number := session.Slots.IdentityNumber
	session.Slots.IdentityType = IdentityUnset
	session.Slots.IdentityNumber = ""
	return fmt.Sprintf("⚠️ El documento %s no fue encontrado en el sistema.\n\nVerifica e ingresa el número correcto.\n💡 DNI: 8 dígitos | RUC: 11 dígitos", number), true
}

func (o *Orchestrator) prepareConfirmation(ctx context.Context, session *Session) string {
	report := o.checker.Evaluate(session.Slots, o.historicalAverage(ctx, session.Phone))
	session.PendingReport = report

	token := IdempotencyToken(session.Slots)
	if token != session.IdempotencyToken {
		// New slot set, new token; a fresh critical report needs its own
		// acknowledgement.
		session.IdempotencyToken = token
		session.CriticalAcknowledged = false
	}
	session.State = StateAwaitingConfirmation

	return o.summary(session)
}

func (o *Orchestrator) summary(session *Session) string {
	s := session.Slots
	symbol := currencySymbol(s.CurrencyOrDefault())

	var b strings.Builder
	if s.DocumentType == DocumentInvoice {
		b.WriteString("📋 FACTURA 📄\n\n")
	} else {
		b.WriteString("📋 BOLETA 🧾\n\n")
	}
	fmt.Fprintf(&b, "📋 %s: %s\n", identityName(s.IdentityType), s.IdentityNumber)
	if s.ClientName != "" {
		fmt.Fprintf(&b, "👤 %s\n", s.ClientName)
	}
	b.WriteString("\n📦 Productos:\n")
	for _, li := range s.LineItems {
		fmt.Fprintf(&b, "  • %dx %s @ %s%s = %s%s\n",
			li.Quantity, li.Description, symbol, li.UnitPrice.StringFixed(2), symbol, li.Subtotal().StringFixed(2))
	}
	b.WriteString("━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "Subtotal: %s%s\n", symbol, s.Subtotal().StringFixed(2))
	fmt.Fprintf(&b, "IGV (18%%): %s%s\n", symbol, s.Tax().StringFixed(2))
	fmt.Fprintf(&b, "💵 TOTAL: %s%s\n", symbol, s.Total().StringFixed(2))

	if session.PendingReport != nil {
		for _, f := range session.PendingReport.Findings {
			// info findings stay silent unless the user asks for a breakdown
			if f.Severity >= SeverityWarn {
				fmt.Fprintf(&b, "\n⚠️ %s", f.Detail)
			}
		}
		if session.PendingReport.Overall >= SeverityWarn {
			b.WriteString("\n")
		}
	}

	b.WriteString("\n¿Emitir? ✅ Sí / ❌ No")
	return b.String()
}

var reBreakdown = regexp.MustCompile(`(?i)\b(detalles?|desglose|observaci[oó]n(es)?|por qu[eé])\b`)

func (o *Orchestrator) findingsBreakdown(session *Session) string {
	report := session.PendingReport
	if report == nil || len(report.Findings) == 0 {
		return "✅ Sin observaciones en esta emisión.\n\n¿Emitir? ✅ Sí / ❌ No"
	}
	var b strings.Builder
	b.WriteString("🔎 Observaciones:\n")
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "  %s %s\n", severityMark(f.Severity), f.Detail)
	}
	b.WriteString("\n¿Emitir? ✅ Sí / ❌ No")
	return b.String()
}

func severityMark(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarn:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func (o *Orchestrator) handleConfirmation(ctx context.Context, session *Session, text string) string {
	report := session.PendingReport

	// A critical report demands the explicit phrase "confirmo" beyond the
	// normal yes, and only after the warning below has been shown once.
	if report != nil && report.Overall == SeverityCritical &&
		(!session.CriticalAcknowledged || !IsCriticalOverride(text)) {
		session.CriticalAcknowledged = true
		var b strings.Builder
		b.WriteString("🚨 Esta emisión está fuera de lo normal:\n")
		for _, f := range report.Findings {
			if f.Severity == SeverityCritical {
				fmt.Fprintf(&b, "  • %s\n", f.Detail)
			}
		}
		b.WriteString("\nSi aun así deseas emitirla, responde \"CONFIRMO\". Para cancelar, responde \"no\".")
		return b.String()
	}

	if o.coordinator == nil {
		return "⚠️ La emisión no está disponible en este momento. Tus datos siguen guardados; inténtalo en unos minutos."
	}

	result := o.coordinator.Confirm(ctx, session)
	if result.Status != EmissionFailed {
		session.LastEmission = &result
	}
	return o.formatResult(session, result)
}

func (o *Orchestrator) formatResult(session *Session, result EmissionResult) string {
	switch result.Status {
	case EmissionSuccess, EmissionDuplicate:
		reply := fmt.Sprintf("✅ ¡Comprobante emitido!\n\n📄 %s", result.DocumentNumber)
		if result.PDFURL != "" {
			reply += "\n📥 PDF: " + result.PDFURL
		}
		if result.Status == EmissionDuplicate {
			reply += "\n\n(Este comprobante ya había sido emitido; no se generó un duplicado.)"
		}
		return reply + "\n\n¿Algo más?"
	default:
		switch result.ErrorKind {
		case ErrorRejected:
			return "❌ La entidad tributaria rechazó el comprobante. Revisa los datos; tu solicitud sigue guardada, puedes corregir y responder \"sí\" para reintentar."
		case ErrorValidation:
			return "❌ Los datos del comprobante no pasaron la validación. Corrige lo necesario y responde \"sí\" para reintentar."
		default:
			return "⚠️ No pude comunicarme con el sistema de facturación. Tus datos siguen guardados: responde \"sí\" para reintentar."
		}
	}
}

func (o *Orchestrator) promptMissing(session *Session) string {
	missing := session.Slots.Missing()
	if len(missing) == 0 {
		return o.summary(session)
	}
	switch missing[0] {
	case "tipo_documento":
		if session.Slots.IdentityNumber != "" {
			return fmt.Sprintf("%s %s\n\n¿Factura o Boleta?", identityName(session.Slots.IdentityType), session.Slots.IdentityNumber)
		}
		return "¿Factura o Boleta?"
	case "identificacion_cliente":
		if session.Slots.DocumentType == DocumentInvoice {
			return "📄 ¡Perfecto! Vamos con la Factura.\n\nDame el RUC del cliente (11 dígitos).\n💡 Puedes enviarme todo junto: \"RUC 20161541991, 3 laptops a 2500\""
		}
		return "🧾 ¡Perfecto! Vamos con la Boleta.\n\nDame el DNI (8 dígitos) o RUC del cliente.\n💡 Puedes enviarme todo junto: \"DNI 12345678, 2 camisas a 50\""
	default:
		if session.Slots.ClientName != "" {
			return fmt.Sprintf("👤 Cliente: %s\n📋 Doc: %s\n\n¿Qué productos incluimos?\n📝 Ej: 2 laptops a 2500", session.Slots.ClientName, session.Slots.IdentityNumber)
		}
		return "¿Qué productos incluimos?\n📝 Ej: 2 laptops a 2500"
	}
}

func (o *Orchestrator) greeting(ctx context.Context, session *Session) string {
	count := len(o.catalogEntries(ctx, session.Phone))
	if count > 0 {
		return fmt.Sprintf("¡Hola! 👋 Soy Jack, tu asistente de facturación.\n\n📄 Factura | 🧾 Boleta | 📦 Productos (%d) | 📊 Historial", count)
	}
	return "¡Hola! 👋 Soy Jack, tu asistente de facturación.\n\n📄 Factura | 🧾 Boleta | 📊 Historial"
}

func (o *Orchestrator) listProducts(ctx context.Context, session *Session) string {
	entries := o.catalogEntries(ctx, session.Phone)
	if len(entries) == 0 {
		return "📦 No tienes productos registrados. Puedes emitir indicando los productos directamente."
	}
	showing := len(entries)
	if showing > 15 {
		showing = 15
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📦 Tus productos (%d de %d):\n\n", showing, len(entries))
	for i, e := range entries[:showing] {
		fmt.Fprintf(&b, "%d. %s - S/%s\n", i+1, e.Name, e.UnitPrice.StringFixed(2))
	}
	if len(entries) > showing {
		fmt.Fprintf(&b, "\n... y %d más.", len(entries)-showing)
	}
	return b.String()
}

func (o *Orchestrator) listHistory(ctx context.Context, session *Session) string {
	if o.history == nil {
		return "📊 No tienes emisiones registradas."
	}
	records, err := o.history.RecentEmissions(ctx, session.Phone, 10)
	if err != nil {
		log.Printf("conversation %s: history query failed: %v", session.Phone, err)
		return "⚠️ No pude consultar tu historial en este momento."
	}
	if len(records) == 0 {
		return "📊 No tienes emisiones previas."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Tus últimas emisiones (%d):\n\n", len(records))
	for i, r := range records {
		fmt.Fprintf(&b, "%d. %s %s\n   💰 %s%s | 📅 %s\n",
			i+1, documentName(r.DocumentType), r.DocumentNumber,
			currencySymbol(r.Currency), r.Total.StringFixed(2), r.EmittedAt.Format("2006-01-02"))
	}
	return b.String()
}

func (o *Orchestrator) answerQuestion(ctx context.Context, session *Session, text string) string {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "diferencia") {
		return "📋 Factura vs Boleta\n\n📄 FACTURA: RUC (11 dígitos), deduce IGV, para empresas.\n🧾 BOLETA: DNI o RUC, no deduce IGV, para personas.\n\n¿Te ayudo a emitir?"
	}
	if strings.Contains(lower, "igv") {
		return "📋 El IGV es el 18%. Se agrega al subtotal; las facturas permiten deducirlo, las boletas no.\n\n¿Algo más?"
	}

	if o.answerer != nil {
		entries := o.catalogEntries(ctx, session.Phone)
		answer, err := o.answerer.AnswerGeneralQuestion(ctx, text, entries)
		if err == nil && answer != "" {
			return answer
		}
		log.Printf("conversation %s: answerer failed: %v", session.Phone, err)
	}
	return "¿En qué te ayudo?\n\n📄 Emitir Factura\n🧾 Emitir Boleta\n📊 Historial"
}

func (o *Orchestrator) catalogEntries(ctx context.Context, phone string) []CatalogEntry {
	if o.catalog == nil {
		return nil
	}
	entries, err := o.catalog.Catalog(ctx, phone)
	if err != nil {
		log.Printf("conversation %s: catalog load failed: %v", phone, err)
		return nil
	}
	return entries
}

func (o *Orchestrator) historicalAverage(ctx context.Context, phone string) decimal.Decimal {
	if o.history == nil {
		return decimal.Zero
	}
	avg, err := o.history.HistoricalAverage(ctx, phone)
	if err != nil {
		log.Printf("conversation %s: historical average failed: %v", phone, err)
		return decimal.Zero
	}
	return avg
}

var reBarePrice = regexp.MustCompile(`(\d+(?:[.,]\d{1,2})?)`)

func extractBarePrice(text string) (decimal.Decimal, bool) {
	m := reBarePrice.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

func currencySymbol(currency string) string {
	if currency == "USD" {
		return "$"
	}
	return "S/"
}

func documentName(dt DocumentType) string {
	if dt == DocumentInvoice {
		return "Factura"
	}
	return "Boleta"
}

func identityName(it IdentityType) string {
	if it == IdentityTaxID {
		return "RUC"
	}
	return "DNI"
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
