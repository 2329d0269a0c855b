package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// KeySource supplies credentials for the hosted Whisper API. The OpenAI
// generation backend satisfies it.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
	// ResetAPIKey is called after the API rejected the key.
	ResetAPIKey()
	BaseURL() string
}

// StatusError is a non-2xx answer from a transcription endpoint.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("speech: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

type transcriptResponse struct {
	Text string `json:"text"`
}

// WhisperAPI calls the hosted /audio/transcriptions endpoint.
type WhisperAPI struct {
	keys       KeySource
	model      string
	httpClient *http.Client
}

func NewWhisperAPI(keys KeySource, httpClient *http.Client) *WhisperAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &WhisperAPI{keys: keys, model: "whisper-1", httpClient: httpClient}
}

func (w *WhisperAPI) Name() string { return "whisper-api" }

func (w *WhisperAPI) Available(ctx context.Context) bool {
	if w.keys == nil {
		return false
	}
	_, err := w.keys.APIKey(ctx)
	return err == nil
}

func (w *WhisperAPI) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	key, err := w.keys.APIKey(ctx)
	if err != nil {
		return "", err
	}
	fields := map[string]string{"model": w.model}
	if language != "" {
		fields["language"] = language
	}
	url := strings.TrimRight(w.keys.BaseURL(), "/") + "/audio/transcriptions"
	text, err := postMultipart(ctx, w.httpClient, url, key, audio, filename, fields)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		w.keys.ResetAPIKey()
	}
	return text, err
}

// LocalWhisper calls a whisper.cpp server's /inference endpoint.
type LocalWhisper struct {
	baseURL    string
	httpClient *http.Client
}

func NewLocalWhisper(baseURL string, httpClient *http.Client) *LocalWhisper {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &LocalWhisper{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), httpClient: httpClient}
}

func (l *LocalWhisper) Name() string { return "whisper-local" }

func (l *LocalWhisper) Available(ctx context.Context) bool {
	if l.baseURL == "" {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, l.baseURL+"/", nil)
	if err != nil {
		return false
	}
	res, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = res.Body.Close()
	return res.StatusCode < 500
}

func (l *LocalWhisper) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	fields := map[string]string{"response_format": "json", "temperature": "0"}
	if language != "" {
		fields["language"] = language
	}
	return postMultipart(ctx, l.httpClient, l.baseURL+"/inference", "", audio, filename, fields)
}

func postMultipart(ctx context.Context, hc *http.Client, url, bearer string, audio []byte, filename string, fields map[string]string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("speech: create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("speech: write audio: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("speech: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("speech: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("speech: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &StatusError{StatusCode: res.StatusCode, URL: url, Body: truncate(string(raw), 512)}
	}
	var out transcriptResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("speech: decode response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", errors.New("speech: empty transcript")
	}
	return out.Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	_ Backend = (*WhisperAPI)(nil)
	_ Backend = (*LocalWhisper)(nil)
)
