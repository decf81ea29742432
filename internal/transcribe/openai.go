package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	openAITranscriptionsURL = "https://api.openai.com/v1/audio/transcriptions"
	openAIModelsURL         = "https://api.openai.com/v1/models"
)

// OpenAIEngine calls the hosted OpenAI audio transcriptions API. This is the
// reference engine; it needs no local model but requires an API key.
type OpenAIEngine struct {
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client

	// overridable for tests
	transcribeURL string
	modelsURL     string
}

// NewOpenAIEngine creates the hosted reference engine.
func NewOpenAIEngine(apiKey, model string, timeout time.Duration) *OpenAIEngine {
	return &OpenAIEngine{
		apiKey:        apiKey,
		model:         model,
		timeout:       timeout,
		client:        &http.Client{Timeout: timeout},
		transcribeURL: openAITranscriptionsURL,
		modelsURL:     openAIModelsURL,
	}
}

// Name returns the engine name.
func (e *OpenAIEngine) Name() string { return "openai" }

// Model returns the configured model identifier.
func (e *OpenAIEngine) Model() string { return e.model }

// Load verifies the API key against the models endpoint.
func (e *OpenAIEngine) Load(ctx context.Context) error {
	if e.apiKey == "" {
		return fmt.Errorf("openai engine selected but OPENAI_API_KEY is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.modelsURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("openai rejected API key (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("openai unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// Transcribe uploads the audio file and returns timed segments.
func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
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

	w.WriteField("model", e.model)
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.transcribeURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result verboseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.segments(), nil
}
