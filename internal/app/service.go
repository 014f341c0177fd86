package app

import "context"

// ConverseRequest is one inbound WhatsApp turn. Message carries the text;
// audio messages instead carry the media bytes base64-encoded in FileBase64
// with their MIME type, and Message may be empty.
type ConverseRequest struct {
	Phone      string `json:"phone"`
	Message    string `json:"message"`
	MimeType   string `json:"mime_type,omitempty"`
	FileBase64 string `json:"file_base64,omitempty"`
}

// ConverseResult is the agent's reply for one turn.
type ConverseResult struct {
	Reply string `json:"reply"`
}

// ConversationService is the application boundary consumed by the transport
// adapters. One call per inbound message; the reply is always user-facing
// Spanish text, never an internal error string.
type ConversationService interface {
	Converse(ctx context.Context, req ConverseRequest) (ConverseResult, error)
}
