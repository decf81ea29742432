package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WhisperEngine calls a self-hosted OpenAI-compatible /v1/audio/transcriptions
// endpoint (faster-whisper via speaches or whisper-server). This is the fast
// batch engine; device and compute-type hints are forwarded as form fields
// and ignored by servers that don't support them.
type WhisperEngine struct {
	url         string
	model       string
	device      string
	computeType string
	timeout     time.Duration
	client      *http.Client
}

// NewWhisperEngine creates the local whisper-server engine.
func NewWhisperEngine(url, model, device, computeType string, timeout time.Duration) *WhisperEngine {
	return &WhisperEngine{
		url:         url,
		model:       model,
		device:      device,
		computeType: computeType,
		timeout:     timeout,
		client:      &http.Client{Timeout: timeout},
	}
}

// Name returns the engine name.
func (e *WhisperEngine) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (e *WhisperEngine) Model() string { return e.model }

// Load probes the server's models endpoint so a dead or misconfigured
// server fails startup instead of failing every item.
func (e *WhisperEngine) Load(ctx context.Context) error {
	probe, err := modelsEndpoint(e.url)
	if err != nil {
		return fmt.Errorf("whisper url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper server unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("whisper server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// Transcribe uploads the audio file and returns timed segments.
func (e *WhisperEngine) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if e.model != "" {
		w.WriteField("model", e.model)
	}
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")

	// Non-standard hints, only sent when set; OpenAI-compatible servers
	// ignore unknown form fields.
	if e.device != "" && e.device != "cpu" {
		w.WriteField("device", e.device)
	}
	if e.computeType != "" && e.computeType != "default" {
		w.WriteField("compute_type", e.computeType)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result verboseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.segments(), nil
}

// modelsEndpoint derives the sibling /v1/models URL from a transcriptions
// endpoint URL.
func modelsEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if idx := strings.Index(u.Path, "/v1/"); idx >= 0 {
		u.Path = u.Path[:idx] + "/v1/models"
	} else {
		u.Path = "/v1/models"
	}
	u.RawQuery = ""
	return u.String(), nil
}
