// Package speech turns recorded audio into text through an ordered list of
// speech-to-text backends.
package speech

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MaxAudioBytes is the largest upload accepted.
const MaxAudioBytes = 25 << 20

var (
	// ErrTranscriptionUnavailable means no backend could transcribe the audio.
	ErrTranscriptionUnavailable = errors.New("speech: transcription unavailable")
	// ErrInvalidAudio means the upload was rejected before any backend was tried.
	ErrInvalidAudio = errors.New("speech: invalid audio")
)

var supportedExtensions = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".m4a": {}, ".ogg": {}, ".flac": {}, ".webm": {}, ".mp4": {},
}

// Backend is one speech-to-text service.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

// Transcriber tries its backends in order until one returns text.
type Transcriber struct {
	backends []Backend
	logger   *zap.Logger
}

func NewTranscriber(logger *zap.Logger, backends ...Backend) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bs []Backend
	for _, b := range backends {
		if b != nil {
			bs = append(bs, b)
		}
	}
	return &Transcriber{backends: bs, logger: logger.Named("speech")}
}

// Validate checks size and file extension.
func Validate(audio []byte, filename string) error {
	if len(audio) == 0 {
		return fmt.Errorf("%w: empty upload", ErrInvalidAudio)
	}
	if len(audio) > MaxAudioBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidAudio, len(audio), MaxAudioBytes)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := supportedExtensions[ext]; !ok {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidAudio, ext)
	}
	return nil
}

// Transcribe returns the recognised text. A language of "" or "auto" lets the
// backend detect it.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if err := Validate(audio, filename); err != nil {
		return "", err
	}
	if strings.EqualFold(language, "auto") {
		language = ""
	}

	var errs []error
	for _, b := range t.backends {
		if !b.Available(ctx) {
			t.logger.Debug("speech backend unavailable", zap.String("backend", b.Name()))
			continue
		}
		text, err := b.Transcribe(ctx, audio, filename, language)
		if err == nil && strings.TrimSpace(text) != "" {
			t.logger.Info("audio transcribed",
				zap.String("backend", b.Name()),
				zap.Int("chars", len(text)))
			return strings.TrimSpace(text), nil
		}
		if err == nil {
			err = errors.New("empty transcript")
		}
		t.logger.Warn("speech backend failed", zap.String("backend", b.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", ErrTranscriptionUnavailable
	}
	return "", fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, errors.Join(errs...))
}
