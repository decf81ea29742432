package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// downloadTimeout bounds one episode download end to end.
const downloadTimeout = 5 * time.Minute

// Downloader streams remote audio to disk.
type Downloader struct {
	client *http.Client
	log    zerolog.Logger
}

// NewDownloader creates a Downloader with the standard timeout.
func NewDownloader(log zerolog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: downloadTimeout},
		log:    log,
	}
}

// Download streams url to dest. On any failure the partial file is removed
// so a retry starts clean.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	d.log.Info().Str("url", url).Str("dest", dest).Msg("downloading")
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		d.removePartial(dest)
		return fmt.Errorf("stream %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		d.removePartial(dest)
		return fmt.Errorf("close %s: %w", dest, err)
	}

	d.log.Info().Str("dest", dest).Msg("download complete")
	return nil
}

func (d *Downloader) removePartial(dest string) {
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		d.log.Error().Err(err).Str("path", dest).Msg("failed to remove partial download")
	}
}
