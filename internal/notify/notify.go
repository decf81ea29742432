// Package notify delivers best-effort completion messages to a webhook.
// Delivery failures are logged and swallowed; they never affect pipeline
// state.
package notify

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

	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/metrics"
)

// maxAttachmentBytes is the webhook attachment ceiling (~7.8 MB, just under
// Discord's 8 MB limit). Larger transcripts get a text-only message.
const maxAttachmentBytes = int64(78 * 1024 * 1024 / 10)

// Notifier announces a finished transcript.
type Notifier interface {
	Send(ctx context.Context, transcriptPath, title string)
}

// New returns a webhook-backed notifier, or a noop when no endpoint is
// configured.
func New(endpoint string, log zerolog.Logger) Notifier {
	if endpoint == "" {
		return noop{}
	}
	return &webhook{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

type noop struct{}

func (noop) Send(context.Context, string, string) {}

type webhook struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// Send posts the transcript to the webhook, attaching the file when it fits
// under the attachment ceiling.
func (n *webhook) Send(ctx context.Context, transcriptPath, title string) {
	info, err := os.Stat(transcriptPath)
	if err != nil {
		n.log.Error().Err(err).Str("path", transcriptPath).Msg("transcript missing, cannot notify")
		return
	}

	content := fmt.Sprintf("Transcription complete for: **%s**", title)

	var req *http.Request
	if info.Size() > maxAttachmentBytes {
		n.log.Warn().
			Str("file", filepath.Base(transcriptPath)).
			Int64("bytes", info.Size()).
			Msg("transcript too large to attach, sending text-only notification")
		req, err = n.textRequest(ctx, fmt.Sprintf("%s\n(Transcript `%s` too large to attach: %.2fMB)",
			content, filepath.Base(transcriptPath), float64(info.Size())/(1024*1024)))
	} else {
		req, err = n.fileRequest(ctx, transcriptPath, content)
	}
	if err != nil {
		n.log.Error().Err(err).Msg("failed to build webhook request")
		return
	}

	metrics.NotificationsSentTotal.Inc()
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Error().Err(err).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		n.log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("webhook rejected notification")
		return
	}

	n.log.Info().Str("file", filepath.Base(transcriptPath)).Msg("notification sent")
}

func (n *webhook) textRequest(ctx context.Context, content string) (*http.Request, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (n *webhook) fileRequest(ctx context.Context, path, content string) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	if err := w.WriteField("payload_json", string(payload)); err != nil {
		return nil, err
	}

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}
