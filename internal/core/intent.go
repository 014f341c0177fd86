package core

import "regexp"

// Intent is the classified purpose of one user message.
type Intent string

const (
	IntentEmit            Intent = "emit"
	IntentConfirm         Intent = "confirm"
	IntentCancel          Intent = "cancel"
	IntentGreeting        Intent = "greeting"
	IntentQueryProducts   Intent = "query-products"
	IntentQueryHistory    Intent = "query-history"
	IntentGeneralQuestion Intent = "general-question"
	IntentUnknown         Intent = "unknown"
)

// IntentClassifier is the capability interface over whatever scoring function
// backs intent detection. Implementations may be rule-based or model-backed;
// the state machine only consumes the (label, confidence) contract.
type IntentClassifier interface {
	Classify(text string, session *Session) (Intent, float64)
}

var (
	reAffirmative = regexp.MustCompile(`(?i)^\s*(si|sí|yes|ok|okey|okay|dale|confirmo|acepto|adelante|procede|emite|correcto|claro|por supuesto|de acuerdo|listo|perfecto)[\s.!,]*$`)
	reNegative    = regexp.MustCompile(`(?i)(^\s*(no|nop|nope)[\s.!,]*$|\b(cancelar|cancela|canc[eé]lalo|olvida|olv[ií]dalo|mejor no|no quiero|ya no|detener|parar|salir)\b)`)
	reEmission    = regexp.MustCompile(`(?i)(\b(emitir|emite|generar|genera|crear|hacer|necesito|quiero)\s+(una?\s+)?(factura|boleta)\b|^\s*(factura|boleta)[\s.!,]*$|\b(factura|boleta)\s+(para|con|de)\b)`)
	reProducts    = regexp.MustCompile(`(?i)\b(productos?|cat[aá]logo|inventario)\b`)
	reHistory     = regexp.MustCompile(`(?i)\b(historial|hist[oó]rico|ventas|emisiones|[uú]ltimas?\s+(factura|boleta|emisi[oó]n))\b`)
	reGeneral     = regexp.MustCompile(`(?i)(\b(qu[eé] es|c[oó]mo funciona|diferencias?|ayuda|dudas?|expl[ií]came|explicame)\b|\bigv\b|\bc[oó]mo\s+(emitir|hacer)\b)`)
	reGreeting    = regexp.MustCompile(`(?i)^\s*(hola|hey|hi|buen[oa]s(\s+(d[ií]as|tardes|noches))?)[\s!.,]*$`)
	reHasData     = regexp.MustCompile(`(?i)(\b\d{8}\b|\b[12]0\d{9}\b|\d+\s+[a-záéíóúñü]+\s+(a|@|por)\s+\d+|\bdni\b|\bruc\b)`)
)

// RuleClassifier is the default IntentClassifier: a deterministic priority
// ladder of Spanish patterns, sensitive to the conversation state so that a
// bare "sí" only reads as confirmation when one is pending.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

func (c *RuleClassifier) Classify(text string, session *Session) (Intent, float64) {
	inEmission := session != nil && session.HasEmissionData()
	awaiting := session != nil && session.State == StateAwaitingConfirmation

	// Confirmation/cancellation only carry meaning against a pending summary.
	if awaiting {
		if reAffirmative.MatchString(text) {
			return IntentConfirm, 0.95
		}
		if reNegative.MatchString(text) {
			return IntentCancel, 0.95
		}
	}

	if reNegative.MatchString(text) && (inEmission || len(text) < 25) {
		return IntentCancel, 0.9
	}

	if reEmission.MatchString(text) {
		return IntentEmit, 0.9
	}

	// Mid-collection, anything carrying emission data continues the emission.
	if inEmission && reHasData.MatchString(text) {
		return IntentEmit, 0.85
	}

	if reHistory.MatchString(text) {
		return IntentQueryHistory, 0.9
	}

	if reGeneral.MatchString(text) {
		return IntentGeneralQuestion, 0.9
	}

	if len(text) < 30 && reGreeting.MatchString(text) {
		return IntentGreeting, 0.9
	}

	if reProducts.MatchString(text) {
		return IntentQueryProducts, 0.9
	}

	// Bare identity or item data from IDLE still starts a collection.
	if reHasData.MatchString(text) {
		return IntentEmit, 0.75
	}

	if len(text) > 10 && containsQuestionMark(text) {
		return IntentGeneralQuestion, 0.6
	}

	return IntentUnknown, 0.5
}

func containsQuestionMark(text string) bool {
	for _, r := range text {
		if r == '?' || r == '¿' {
			return true
		}
	}
	return false
}

// IsAffirmative reports whether text is a plain yes.
func IsAffirmative(text string) bool { return reAffirmative.MatchString(text) }

// IsCancellation reports whether text is a refusal or cancel request.
func IsCancellation(text string) bool { return reNegative.MatchString(text) }

// reCriticalOverride is the second confirmation demanded when the anomaly
// report is critical; a plain "sí" is not enough.
var reCriticalOverride = regexp.MustCompile(`(?i)\bconfirmo\b`)

// IsCriticalOverride reports whether text carries the explicit override
// phrase required to emit past a critical anomaly.
func IsCriticalOverride(text string) bool { return reCriticalOverride.MatchString(text) }
