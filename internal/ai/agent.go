// Package ai holds the OpenAI-backed collaborators: an intent classifier
// with structured output, a general-question answerer, and the audio
// transcriber. The core never imports this package; it consumes the
// capability interfaces.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"tinred-agent/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
)

type Agent struct {
	client *openai.Client
	model  shared.ResponsesModel
}

func NewAgent(apiKey string) *Agent {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Agent{client: &client, model: shared.ResponsesModel(shared.ChatModelGPT4o)}
}

// classification is the structured output contract for intent scoring.
type classification struct {
	Intent     string  `json:"intent" jsonschema:"enum=emit,enum=confirm,enum=cancel,enum=greeting,enum=query-products,enum=query-history,enum=general-question,enum=unknown"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Reasoning  string  `json:"reasoning"`
}

var knownIntents = map[core.Intent]bool{
	core.IntentEmit: true, core.IntentConfirm: true, core.IntentCancel: true,
	core.IntentGreeting: true, core.IntentQueryProducts: true,
	core.IntentQueryHistory: true, core.IntentGeneralQuestion: true,
	core.IntentUnknown: true,
}

// ClassifyIntent scores one user message against the conversation state.
func (a *Agent) ClassifyIntent(ctx context.Context, text string, state core.State) (core.Intent, float64, error) {
	prompt := fmt.Sprintf(`Eres el clasificador de intención de un asistente de facturación peruano por WhatsApp.
Estado actual de la conversación: %s
Etiquetas posibles: emit (emitir factura/boleta o datos de emisión), confirm (sí a un resumen pendiente), cancel, greeting, query-products, query-history, general-question, unknown.
Reglas:
1. "confirm" y "cancel" solo tienen sentido si el estado es AWAITING_CONFIRMATION.
2. Un mensaje con DNI, RUC o productos con precio es "emit".
3. Devuelve una confianza honesta entre 0 y 1.

Mensaje: %s`, state, text)

	schemaStruct := generateSchema()
	schemaJSON, err := json.Marshal(schemaStruct)
	if err != nil {
		return core.IntentUnknown, 0, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return core.IntentUnknown, 0, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}

	params := responses.ResponseNewParams{
		Model: a.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "intent_classification",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("Intent label and confidence for one user message"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return core.IntentUnknown, 0, fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return core.IntentUnknown, 0, fmt.Errorf("empty response content")
	}

	var c classification
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return core.IntentUnknown, 0, fmt.Errorf("failed to parse classification: %w", err)
	}

	intent := core.Intent(c.Intent)
	if !knownIntents[intent] {
		return core.IntentUnknown, 0, fmt.Errorf("unknown intent label %q", c.Intent)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return core.IntentUnknown, 0, fmt.Errorf("confidence %v out of range", c.Confidence)
	}
	return intent, c.Confidence, nil
}

// AnswerGeneralQuestion produces a short Spanish answer for a free-form
// question, with the user's catalog as grounding context.
func (a *Agent) AnswerGeneralQuestion(ctx context.Context, text string, catalog []core.CatalogEntry) (string, error) {
	var b strings.Builder
	b.WriteString(`Eres un asistente de facturación electrónica para pequeños negocios en Perú.
Responde en español, breve (máximo 4 líneas), con emojis moderados.
Si la pregunta no está relacionada con facturación, redirige amablemente hacia emitir una factura o boleta.`)
	if len(catalog) > 0 {
		b.WriteString("\n\nCatálogo del usuario:\n")
		for _, e := range catalog {
			fmt.Fprintf(&b, "- %s: S/%s\n", e.Name, e.UnitPrice.StringFixed(2))
		}
	}
	fmt.Fprintf(&b, "\nPregunta: %s", text)

	resp, err := a.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: a.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(b.String()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai responses error: %w", err)
	}
	answer := strings.TrimSpace(resp.OutputText())
	if answer == "" {
		return "", fmt.Errorf("empty response content")
	}
	return answer, nil
}

func generateSchema() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v classification
	return reflector.Reflect(v)
}

// Classifier is a core.IntentClassifier backed by the LLM, falling back to
// the rule ladder on any model failure so classification never blocks a turn.
type Classifier struct {
	agent    *Agent
	fallback core.IntentClassifier
	timeout  time.Duration
}

func NewClassifier(agent *Agent) *Classifier {
	return &Classifier{
		agent:    agent,
		fallback: core.NewRuleClassifier(),
		timeout:  8 * time.Second,
	}
}

func (c *Classifier) Classify(text string, session *core.Session) (core.Intent, float64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	state := core.StateIdle
	if session != nil {
		state = session.State
	}

	intent, confidence, err := c.agent.ClassifyIntent(ctx, text, state)
	if err != nil {
		log.Printf("ai: classification fell back to rules: %v", err)
		return c.fallback.Classify(text, session)
	}

	// The rule ladder knows the state machine better than the model does for
	// bare confirmations; keep its verdict when the model is unsure.
	if intent == core.IntentUnknown || confidence < 0.5 {
		return c.fallback.Classify(text, session)
	}
	return intent, confidence
}
