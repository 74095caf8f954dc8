package answer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/model/speech"
)

// DefaultTranscriptionTimeout bounds a single transcription call.
const DefaultTranscriptionTimeout = 45 * time.Second

var errNoAudio = errors.New("no audio data")

// Transcriber 语音转写协作方。
type Transcriber interface {
	TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speech.ASRResponse, error)
}

// Audio is a recording handed off from the client's media store.
type Audio struct {
	Data     []byte
	Format   string
	Language string
}

// Config controls ingestion policy.
type Config struct {
	Timeout  time.Duration
	Language string
	// RequireVoiceContent turns an empty transcript into ErrEmptyAnswer
	// instead of accepting silence as an answer.
	RequireVoiceContent bool
}

// Ingester normalizes chat text and transcribed voice into one answer shape.
type Ingester struct {
	transcriber Transcriber
	cfg         Config
	now         func() time.Time
}

// NewIngester creates an ingester. transcriber may be nil when speech is not
// configured; voice answers then fail with ErrTranscriptionUnavailable.
func NewIngester(transcriber Transcriber, cfg Config) *Ingester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTranscriptionTimeout
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &Ingester{
		transcriber: transcriber,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// VoiceEnabled reports whether a transcription collaborator is wired.
func (i *Ingester) VoiceEnabled() bool {
	return i != nil && i.transcriber != nil
}

// Chat passes typed text through after trimming and normalization.
func (i *Ingester) Chat(content string) (model.Answer, error) {
	text := Normalize(content)
	if text == "" {
		return model.Answer{}, model.ErrEmptyAnswer
	}
	return model.Answer{Modality: model.ModalityChat, Content: text, CreatedAt: i.now()}, nil
}

// Voice transcribes audio. Collaborator failures map to
// ErrTranscriptionUnavailable and leave the caller free to retry.
func (i *Ingester) Voice(ctx context.Context, sessionID string, audio Audio) (model.Answer, error) {
	if !i.VoiceEnabled() {
		return model.Answer{}, fmt.Errorf("%w: speech service not configured", model.ErrTranscriptionUnavailable)
	}
	if len(audio.Data) == 0 {
		return model.Answer{}, fmt.Errorf("%w: %w", model.ErrTranscriptionUnavailable, errNoAudio)
	}

	format := strings.ToLower(strings.TrimSpace(audio.Format))
	if format == "" {
		format = "wav"
	}
	language := strings.TrimSpace(audio.Language)
	if language == "" {
		language = i.cfg.Language
	}

	tctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := i.transcriber.TranscribeBuffer(tctx, sessionID, audio.Data, format, language)
	if err != nil {
		log.Warn().Err(err).Str("interview_id", sessionID).Str("format", format).Dur("elapsed", time.Since(started)).Msg("transcription failed")
		return model.Answer{}, fmt.Errorf("%w: %w", model.ErrTranscriptionUnavailable, err)
	}
	if resp == nil {
		return model.Answer{}, fmt.Errorf("%w: empty response", model.ErrTranscriptionUnavailable)
	}

	text := Normalize(resp.Text)
	if text == "" {
		if i.cfg.RequireVoiceContent {
			return model.Answer{}, model.ErrEmptyAnswer
		}
		log.Info().Str("interview_id", sessionID).Msg("transcript empty, recording silence as answer")
	}

	return model.Answer{Modality: model.ModalityVoice, Content: text, CreatedAt: i.now()}, nil
}

// Normalize trims and NFC-normalizes answer text, collapsing CRLF.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(norm.NFC.String(s))
}

// InferAudioFormat 从文件名或 Content-Type 推断音频格式。
func InferAudioFormat(filename, contentType string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	case ".webm":
		return "webm"
	case ".m4a":
		return "m4a"
	case ".aac":
		return "aac"
	case ".ogg", ".opus":
		return "ogg"
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "webm"):
		return "webm"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"):
		return "m4a"
	default:
		return "wav"
	}
}
