// Package assets acquires source images and persists generated artifacts.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
	"github.com/joseph-ayodele/seedream-pipeline/internal/runstore"
)

// maxSourceBytes bounds a downloaded source image.
const maxSourceBytes = 25 << 20

// Source is an acquired source image on local disk.
type Source struct {
	Path string
	Size int64
	// Temporary is true when the file was downloaded for this attempt and
	// may be removed once the record completes.
	Temporary bool
}

// Remove deletes a temporary source file. Local originals are never removed.
func (s *Source) Remove() error {
	if s == nil || !s.Temporary || s.Path == "" {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type DownloaderConfig struct {
	Timeout  time.Duration
	Attempts uint
	Client   *http.Client
}

// Downloader resolves a record's asset reference to a local file.
type Downloader struct {
	client   *http.Client
	timeout  time.Duration
	attempts uint
	logger   *slog.Logger
}

func NewDownloader(cfg DownloaderConfig, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Downloader{client: client, timeout: cfg.Timeout, attempts: cfg.Attempts, logger: logger}
}

// Acquire downloads (http/https) or locates (file path) the record's source
// asset. Downloads are written to dir as <id>_source.<ext>.
func (d *Downloader) Acquire(ctx context.Context, rec entity.Record, dir string) (*Source, error) {
	ref := strings.TrimSpace(rec.AssetURL)
	if ref == "" {
		return nil, common.NewAppError(common.KindAcquisition, fmt.Sprintf("record %d has no source asset", rec.ID), common.ErrInvalidInput)
	}

	u, err := url.Parse(ref)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return d.download(ctx, rec.ID, u.String(), dir)
	}
	if err == nil && u.Scheme == "file" {
		ref = u.Path
	}
	return d.local(rec.ID, ref)
}

func (d *Downloader) local(id int64, path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, common.NewAppError(common.KindAcquisition, fmt.Sprintf("source asset for %d", id), err)
	}
	if info.IsDir() {
		return nil, common.NewAppError(common.KindAcquisition, fmt.Sprintf("source asset for %d is a directory", id), common.ErrInvalidInput)
	}
	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return nil, common.NewAppError(common.KindAcquisition, fmt.Sprintf("source asset for %d has unsupported extension %q", id, ext), common.ErrInvalidInput)
	}
	d.logger.Debug("assets.source.local", "record_id", id, "path", path, "size", humanize.IBytes(uint64(info.Size())))
	return &Source{Path: path, Size: info.Size()}, nil
}

type fetched struct {
	data        []byte
	contentType string
}

func (d *Downloader) download(ctx context.Context, id int64, rawURL, dir string) (*Source, error) {
	start := time.Now()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 5 * time.Second

	res, err := backoff.Retry(ctx, func() (fetched, error) {
		return d.get(ctx, rawURL)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(d.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Warn("assets.download.retry", "record_id", id, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return nil, common.NewAppError(common.KindAcquisition, fmt.Sprintf("download source asset for %d", id), err)
	}

	ext := constants.ExtForContentType(res.contentType)
	if !strings.HasPrefix(res.contentType, "image/") {
		if urlExt := constants.NormalizeExt(filepath.Ext(urlPath(rawURL))); urlExt != "" {
			if _, ok := constants.AllowedExtensions[urlExt]; ok {
				ext = urlExt
			}
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_source.%s", id, ext))
	if err := runstore.WriteBytes(path, res.data); err != nil {
		return nil, common.NewAppError(common.KindAcquisition, fmt.Sprintf("save source asset for %d", id), err)
	}

	d.logger.Info("assets.download.ok",
		"record_id", id,
		"path", path,
		"size", humanize.IBytes(uint64(len(res.data))),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Source{Path: path, Size: int64(len(res.data)), Temporary: true}, nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) (fetched, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetched{}, backoff.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fetched{}, backoff.Permanent(ctx.Err())
		}
		return fetched{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fetched{}, backoff.Permanent(fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fetched{}, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return fetched{}, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxSourceBytes {
		return fetched{}, backoff.Permanent(fmt.Errorf("GET %s: body exceeds %s", rawURL, humanize.IBytes(maxSourceBytes)))
	}
	if len(data) == 0 {
		return fetched{}, backoff.Permanent(fmt.Errorf("GET %s: empty body", rawURL))
	}
	return fetched{data: data, contentType: resp.Header.Get("Content-Type")}, nil
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
