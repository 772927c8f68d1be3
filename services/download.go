package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"docconvert/models"
)

// Downloader fetches finished conversions from the document server.
type Downloader struct {
	client *http.Client
}

func NewDownloader(timeoutSeconds int) *Downloader {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// Download stores the body of url in a new file under dir and returns its
// path. Nothing is left in dir when it fails.
func (d *Downloader) Download(ctx context.Context, url string, dir string) (path string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &models.TransportError{Op: "create download request", Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &models.TransportError{Op: "download result", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &models.TransportError{
			Op:  "download result",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}
	out, err := os.CreateTemp(dir, "result-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(out.Name())
		}
	}()

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return "", &models.TransportError{Op: "download result", Err: copyErr}
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to close staging file: %w", closeErr)
	}
	if n == 0 {
		return "", &models.TransportError{Op: "download result", Err: errors.New("empty response body")}
	}

	return out.Name(), nil
}
