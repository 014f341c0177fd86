package ai

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
)

// audioExtensions maps incoming WhatsApp mime types to a filename extension
// the transcription endpoint accepts.
var audioExtensions = map[string]string{
	"audio/ogg":  "ogg",
	"audio/opus": "ogg",
	"audio/webm": "webm",
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/m4a":  "m4a",
	"audio/mp4":  "mp4",
	"audio/wav":  "wav",
}

// Transcribe turns a voice note into Spanish text via Whisper and then
// normalizes spoken digits, so "uno dos tres cuatro cinco seis siete ocho"
// survives as a DNI the extractor can read.
func (a *Agent) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}

	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	ext, ok := audioExtensions[mime]
	if !ok {
		ext = "ogg"
	}

	resp, err := a.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model:    openai.AudioModelWhisper1,
		File:     openai.File(bytes.NewReader(audio), "voice."+ext, mime),
		Language: openai.String("es"),
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}

	text := normalizeSpokenNumbers(resp.Text)
	if text == "" {
		return "", fmt.Errorf("transcription produced no text")
	}
	return text, nil
}

var spokenDigits = []struct{ word, digit string }{
	{"cero", "0"}, {"uno", "1"}, {"una", "1"}, {"dos", "2"}, {"tres", "3"},
	{"cuatro", "4"}, {"cinco", "5"}, {"seis", "6"}, {"siete", "7"},
	{"ocho", "8"}, {"nueve", "9"},
}

var (
	reSpacedDigitRun = regexp.MustCompile(`\b\d(?:\s+\d){3,}\b`)
	reSplitNumber    = regexp.MustCompile(`(\d{4,})\s+(\d{1,4})\b`)
)

// normalizeSpokenNumbers rewrites digit words to digits and joins digit runs
// that the recognizer split with spaces, recovering dictated DNI/RUC numbers.
func normalizeSpokenNumbers(text string) string {
	result := text
	for _, sd := range spokenDigits {
		re := regexp.MustCompile(`(?i)\b` + sd.word + `\b`)
		result = re.ReplaceAllString(result, sd.digit)
	}
	result = reSpacedDigitRun.ReplaceAllStringFunc(result, func(run string) string {
		return strings.Join(strings.Fields(run), "")
	})
	result = reSplitNumber.ReplaceAllString(result, "$1$2")
	return strings.TrimSpace(result)
}
