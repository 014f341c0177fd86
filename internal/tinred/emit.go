package tinred

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"tinred-agent/internal/core"
)

// SUNAT document type codes on the wire.
const (
	codeInvoice = "01"
	codeReceipt = "03"
)

// SUNAT identity document type codes.
const (
	codeDNI = "1"
	codeRUC = "6"
)

// emitPayload is the store_agente_api request body. Items travel as three
// parallel string arrays; amounts are fixed two-decimal strings.
type emitPayload struct {
	Token          string   `json:"token"`
	Telefono       string   `json:"telefono"`
	DocumentType   string   `json:"tdocod"`
	Currency       string   `json:"mondoc"`
	IdentityType   string   `json:"tdicod"`
	IdentityNumber string   `json:"clinum"`
	Quantities     []string `json:"cant"`
	Descriptions   []string `json:"detpro"`
	UnitPrices     []string `json:"preuni"`
	Subtotal       string   `json:"subtanota"`
	IGV            string   `json:"igv"`
	Total          string   `json:"total"`
}

type emitResponse struct {
	Success string `json:"success"`
	Estado  string `json:"estado"`
	Serie   string `json:"serie"`
	Numero  string `json:"numero"`
	ID      int    `json:"id"`
	Mensaje string `json:"mensaje"`
	PDF     string `json:"pdf"`
}

func (r emitResponse) successful() bool {
	return strings.EqualFold(r.Success, "TRUE")
}

func (r emitResponse) duplicate() bool {
	return strings.EqualFold(r.Estado, "DUPLICADO")
}

func (r emitResponse) fullNumber() string {
	if r.Serie == "" && r.Numero == "" {
		return ""
	}
	return r.Serie + "-" + r.Numero
}

// Emit sends one emission request. It satisfies core.Emitter: a consumed
// idempotency token maps to core.ErrTokenUsed with the original document
// number in the response, so the caller can treat it as a duplicate rather
// than a failure.
func (c *Client) Emit(ctx context.Context, req core.EmissionRequest) (core.EmissionResponse, error) {
	payload := buildEmitPayload(req)
	logCall("emit "+payload.DocumentType, payload.Telefono)

	var resp emitResponse
	if err := c.postJSON(ctx, pathEmit, c.cfg.EmitTimeout, payload, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return core.EmissionResponse{}, &core.EmitError{
				Kind:      apiErr.Kind,
				Message:   apiErr.Message,
				Retryable: apiErr.Retryable,
			}
		}
		return core.EmissionResponse{}, err
	}

	out := core.EmissionResponse{DocumentNumber: resp.fullNumber(), PDFURL: resp.PDF}

	if resp.duplicate() {
		return out, core.ErrTokenUsed
	}
	if !resp.successful() {
		msg := resp.Mensaje
		if msg == "" {
			msg = "emisión rechazada"
		}
		return core.EmissionResponse{}, &core.EmitError{
			Kind:      core.ErrorRejected,
			Message:   msg,
			Retryable: false,
		}
	}
	return out, nil
}

func buildEmitPayload(req core.EmissionRequest) emitPayload {
	slots := req.Slots
	p := emitPayload{
		Token:          req.IdempotencyToken,
		Telefono:       normalizePhone(req.Phone),
		DocumentType:   documentCode(slots.DocumentType),
		Currency:       slots.CurrencyOrDefault(),
		IdentityType:   identityCode(slots.IdentityType),
		IdentityNumber: slots.IdentityNumber,
		Subtotal:       slots.Subtotal().StringFixed(2),
		IGV:            slots.Tax().StringFixed(2),
		Total:          slots.Total().StringFixed(2),
	}
	for _, li := range slots.LineItems {
		p.Quantities = append(p.Quantities, strconv.Itoa(li.Quantity))
		p.Descriptions = append(p.Descriptions, li.Description)
		p.UnitPrices = append(p.UnitPrices, li.UnitPrice.StringFixed(2))
	}
	return p
}

func documentCode(dt core.DocumentType) string {
	if dt == core.DocumentInvoice {
		return codeInvoice
	}
	return codeReceipt
}

func identityCode(it core.IdentityType) string {
	if it == core.IdentityTaxID {
		return codeRUC
	}
	return codeDNI
}
