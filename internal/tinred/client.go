// Package tinred is the HTTP client for the TinRed Suite invoicing API. It
// adapts the remote contract (SUNAT document codes, parallel-array items,
// Spanish field names) to the core's domain types.
package tinred

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"tinred-agent/internal/core"
)

// Default endpoints of the TinRed test environment. Every one can be
// overridden through Config.
const (
	DefaultBaseURL      = "https://test.tinred.pe"
	pathEmit            = "/SisFact/api/store_agente_api"
	pathCheckClient     = "/SisFact/api/checkclient_agente_ai"
	pathIdentify        = "/SisFact/api/identify_ai"
	pathProductList     = "/SisFact/api/product_agente_ai"
	pathHistoryList     = "/SisFact/api/record_agente_ai"
	defaultTimeout      = 30 * time.Second
	defaultEmitTimeout  = 90 * time.Second
	maxResponseBodySize = 1 << 20
)

// Config holds the client endpoints and timeouts.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout applies to every call except emission.
	Timeout time.Duration
	// EmitTimeout applies to the emission call, which is markedly slower on
	// the TinRed side.
	EmitTimeout time.Duration
}

// Client talks to the TinRed Suite API. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a client for the configured TinRed environment.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = defaultEmitTimeout
	}
	return &Client{cfg: cfg, http: &http.Client{}}
}

// APIError is a failed TinRed call, classified for the retry policy.
type APIError struct {
	Kind      core.ErrorKind
	Status    int
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tinred %s (status %d): %s", e.Kind, e.Status, e.Message)
}

// postJSON sends a JSON POST and decodes the reply into out. Transport
// failures and 5xx come back as retryable network errors; 4xx as
// non-retryable validation errors.
func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode tinred payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build tinred request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &APIError{Kind: core.ErrorNetwork, Message: "timeout", Retryable: true}
		}
		return &APIError{Kind: core.ErrorNetwork, Message: err.Error(), Retryable: true}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
	if err != nil {
		return &APIError{Kind: core.ErrorNetwork, Status: res.StatusCode, Message: err.Error(), Retryable: true}
	}

	if res.StatusCode >= 500 {
		return &APIError{Kind: core.ErrorNetwork, Status: res.StatusCode, Message: apiMessage(raw), Retryable: true}
	}
	if res.StatusCode >= 400 {
		return &APIError{Kind: core.ErrorValidation, Status: res.StatusCode, Message: apiMessage(raw), Retryable: false}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Kind: core.ErrorNetwork, Status: res.StatusCode, Message: "respuesta inválida", Retryable: false}
	}
	return nil
}

// apiMessage pulls the "mensaje" field out of an error body when present.
func apiMessage(raw []byte) string {
	var body struct {
		Mensaje string `json:"mensaje"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Mensaje != "" {
		return body.Mensaje
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "error sin detalle"
	}
	return msg
}

// normalizePhone strips the WhatsApp transport suffix and separators, the
// same normalization the session store applies.
func normalizePhone(phone string) string {
	phone, _, _ = strings.Cut(phone, "@")
	phone = strings.ReplaceAll(phone, " ", "")
	return strings.ReplaceAll(phone, "-", "")
}

func logCall(what, phone string) {
	log.Printf("tinred: %s phone=%s", what, phone)
}
