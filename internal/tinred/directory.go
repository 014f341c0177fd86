package tinred

import (
	"context"
	"fmt"
)

// LookupClient validates an identity number against the TinRed/SUNAT
// registry. It satisfies core.ClientDirectory. The reply is keyed by a
// result code: {"01": name} when the client exists, {"00": message} when it
// does not.
func (c *Client) LookupClient(ctx context.Context, phone, identityNumber string) (string, bool, error) {
	payload := map[string]string{
		"telefono":         normalizePhone(phone),
		"numero_documento": identityNumber,
	}
	logCall("check-client", payload["telefono"])

	var resp map[string]string
	if err := c.postJSON(ctx, pathCheckClient, c.cfg.Timeout, payload, &resp); err != nil {
		return "", false, fmt.Errorf("check client: %w", err)
	}

	if name, ok := resp["01"]; ok && name != "" {
		return name, true, nil
	}
	if _, ok := resp["00"]; ok {
		return "", false, nil
	}

	// Unexpected shape: any non-code string value is read as a hit, matching
	// the server's looser historic responses.
	for key, value := range resp {
		if key != "00" && len(value) > 2 {
			return value, true, nil
		}
	}
	return "", false, nil
}

// Account identifies the business account registered for a phone number.
type Account struct {
	CompanyID       string `json:"IdEmpresa"`
	EstablishmentID string `json:"IdEstablecimiento"`
	UserID          int    `json:"IdUsuario"`
	Name            string `json:"Nombre"`
}

// Identify resolves the phone number to its TinRed business account. An
// unregistered phone is an error; the conversation layer turns it into an
// onboarding reply.
func (c *Client) Identify(ctx context.Context, phone string) (Account, error) {
	payload := map[string]string{"telefono": normalizePhone(phone)}
	logCall("identify", payload["telefono"])

	var acc Account
	if err := c.postJSON(ctx, pathIdentify, c.cfg.Timeout, payload, &acc); err != nil {
		return Account{}, fmt.Errorf("identify: %w", err)
	}
	if acc.CompanyID == "" {
		return Account{}, fmt.Errorf("identify: phone %s is not registered", payload["telefono"])
	}
	if acc.EstablishmentID == "" {
		acc.EstablishmentID = "0001"
	}
	return acc, nil
}
