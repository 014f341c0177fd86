package app

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"time"

	"tinred-agent/internal/core"
)

// Transcriber converts an audio message to Spanish text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type conversationService struct {
	orchestrator *core.Orchestrator
	transcriber  Transcriber
}

// NewConversationService wires the orchestrator behind the application
// boundary. transcriber may be nil; audio messages are then answered with an
// explanatory reply instead of failing the request.
func NewConversationService(orchestrator *core.Orchestrator, transcriber Transcriber) ConversationService {
	return &conversationService{
		orchestrator: orchestrator,
		transcriber:  transcriber,
	}
}

var errMissingPhone = errors.New("phone is required")

func (s *conversationService) Converse(ctx context.Context, req ConverseRequest) (ConverseResult, error) {
	if req.Phone == "" {
		return ConverseResult{}, errMissingPhone
	}

	text := req.Message
	if req.FileBase64 != "" {
		transcript, ok := s.transcribe(ctx, req)
		if !ok {
			return ConverseResult{Reply: transcript}, nil
		}
		text = transcript
	}

	reply := s.orchestrator.HandleMessage(ctx, req.Phone, text)
	return ConverseResult{Reply: reply}, nil
}

// transcribe returns the transcript and true, or a user-facing fallback reply
// and false. A broken audio message should read as "send it again", not as a
// server error.
func (s *conversationService) transcribe(ctx context.Context, req ConverseRequest) (string, bool) {
	if s.transcriber == nil {
		return "🎙️ Por ahora no puedo procesar audios. ¿Me lo escribes?", false
	}
	audio, err := base64.StdEncoding.DecodeString(req.FileBase64)
	if err != nil {
		log.Printf("converse: invalid audio payload from %s: %v", req.Phone, err)
		return "No pude leer el audio. ¿Puedes enviarlo de nuevo o escribirme el mensaje?", false
	}
	transcript, err := s.transcriber.Transcribe(ctx, audio, req.MimeType)
	if err != nil {
		log.Printf("converse: transcription failed for %s: %v", req.Phone, err)
		return "No pude entender el audio. ¿Puedes enviarlo de nuevo o escribirme el mensaje?", false
	}
	return transcript, true
}

// StartSessionSweeper evicts expired sessions in the background until ctx is
// done. Expiry is also enforced lazily on access; the sweeper only bounds
// memory for phones that never write again.
func StartSessionSweeper(ctx context.Context, sessions *core.SessionStore, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.Sweep(time.Now()); n > 0 {
					log.Printf("session sweeper: evicted %d expired sessions", n)
				}
			}
		}
	}()
}
