package app_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"tinred-agent/internal/app"
	"tinred-agent/internal/core"
)

type fakeTranscriber struct {
	transcript string
	err        error

	gotAudio []byte
	gotMime  string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, mimeType string) (string, error) {
	f.gotAudio = audio
	f.gotMime = mimeType
	return f.transcript, f.err
}

func newService(t *testing.T, tr app.Transcriber) app.ConversationService {
	t.Helper()
	orch := core.NewOrchestrator(core.OrchestratorDeps{})
	return app.NewConversationService(orch, tr)
}

func TestConverse_RequiresPhone(t *testing.T) {
	svc := newService(t, nil)
	if _, err := svc.Converse(context.Background(), app.ConverseRequest{Message: "hola"}); err == nil {
		t.Fatal("expected an error for a request without phone")
	}
}

func TestConverse_TextMessage(t *testing.T) {
	svc := newService(t, nil)
	res, err := svc.Converse(context.Background(), app.ConverseRequest{Phone: "51999888777", Message: "hola"})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if !strings.Contains(res.Reply, "Jack") {
		t.Fatalf("expected greeting reply, got %q", res.Reply)
	}
}

func TestConverse_AudioTranscribed(t *testing.T) {
	tr := &fakeTranscriber{transcript: "hola"}
	svc := newService(t, tr)

	audio := []byte{0x4f, 0x67, 0x67, 0x53}
	res, err := svc.Converse(context.Background(), app.ConverseRequest{
		Phone:      "51999888777",
		MimeType:   "audio/ogg; codecs=opus",
		FileBase64: base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if string(tr.gotAudio) != string(audio) {
		t.Fatalf("transcriber got audio %v, want %v", tr.gotAudio, audio)
	}
	if tr.gotMime != "audio/ogg; codecs=opus" {
		t.Fatalf("transcriber got mime %q", tr.gotMime)
	}
	if !strings.Contains(res.Reply, "Jack") {
		t.Fatalf("expected the transcript to drive the reply, got %q", res.Reply)
	}
}

func TestConverse_AudioFallbacks(t *testing.T) {
	tests := []struct {
		name       string
		service    app.ConversationService
		fileBase64 string
		want       string
	}{
		{
			name:       "no transcriber configured",
			service:    newService(t, nil),
			fileBase64: base64.StdEncoding.EncodeToString([]byte("audio")),
			want:       "no puedo procesar audios",
		},
		{
			name:       "invalid base64",
			service:    newService(t, &fakeTranscriber{transcript: "hola"}),
			fileBase64: "%%% not base64 %%%",
			want:       "No pude leer el audio",
		},
		{
			name:       "transcription error",
			service:    newService(t, &fakeTranscriber{err: errors.New("whisper down")}),
			fileBase64: base64.StdEncoding.EncodeToString([]byte("audio")),
			want:       "No pude entender el audio",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.service.Converse(context.Background(), app.ConverseRequest{
				Phone:      "51999888777",
				MimeType:   "audio/ogg",
				FileBase64: tt.fileBase64,
			})
			if err != nil {
				t.Fatalf("Converse: %v", err)
			}
			if !strings.Contains(res.Reply, tt.want) {
				t.Fatalf("reply %q does not contain %q", res.Reply, tt.want)
			}
		})
	}
}
