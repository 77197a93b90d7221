package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoData is returned when the server has no archive for a tile
var ErrNoData = errors.New("no routing data for tile")

type Downloader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewDownloader(baseURL string, logger *slog.Logger) *Downloader {
	return &Downloader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger.With("component", "routing_downloader"),
	}
}

// Download fetches the archive of tileID ("z/x/y") and stores it at dest
func (d *Downloader) Download(ctx context.Context, tileID, dest string) error {
	start := time.Now()
	url := fmt.Sprintf("%s/%s.zip", d.baseURL, tileID)
	d.logger.Info("starting routing data download", "tile", tileID, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "MapSync/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("failed to download routing data",
			"tile", tileID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("download tile %s: %w", tileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		d.logger.Debug("tile has no routing data", "tile", tileID)
		return fmt.Errorf("%w: %s", ErrNoData, tileID)
	}
	if resp.StatusCode != http.StatusOK {
		d.logger.Error("unexpected HTTP status",
			"tile", tileID,
			"status_code", resp.StatusCode,
			"status", resp.Status,
		)
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmpPath := dest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("read body: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return closeErr
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	d.logger.Info("routing data download completed",
		"tile", tileID,
		"size_mb", fmt.Sprintf("%.2f", float64(n)/(1024*1024)),
		"total_duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
