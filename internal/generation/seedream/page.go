package seedream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/joseph-ayodele/seedream-pipeline/internal/extraction"
)

// maxFetchBytes bounds resources pulled by Fetch.
const maxFetchBytes = 50 << 20

// chromePage exposes the session's current tab to the extraction stages.
type chromePage struct {
	s *Session
}

var _ extraction.Page = (*chromePage)(nil)

func (p *chromePage) Visible(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := p.s.run(ctx, chromedp.Evaluate(visibleJS(selector), &ok))
	return ok, err
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	var ok bool
	if err := p.s.run(ctx, chromedp.Evaluate(clickJS(selector), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("nothing to click for %s: %w", selector, extraction.ErrNoMatch)
	}
	return nil
}

// Download clicks selector and waits for the browser to finish the download
// it starts.
func (p *chromePage) Download(ctx context.Context, selector string) ([]byte, error) {
	dlCtx, cancel := context.WithTimeout(ctx, p.s.cfg.DownloadTimeout)
	defer cancel()

	type outcome struct {
		guid string
		err  error
	}
	done := make(chan outcome, 1)
	listenCtx, stopListen := context.WithCancel(p.s.ctx)
	defer stopListen()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		e, ok := ev.(*browser.EventDownloadProgress)
		if !ok {
			return
		}
		var o outcome
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			o.guid = e.GUID
		case browser.DownloadProgressStateCanceled:
			o.err = fmt.Errorf("download %s canceled", e.GUID)
		default:
			return
		}
		select {
		case done <- o:
		default:
		}
	})

	if err := p.Click(dlCtx, selector); err != nil {
		return nil, err
	}

	select {
	case <-dlCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("download did not finish within %s", p.s.cfg.DownloadTimeout)
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		path := filepath.Join(p.s.downloadDir, o.guid)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read download: %w", err)
		}
		_ = os.Remove(path)
		return data, nil
	}
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var doc string
	err := p.s.run(ctx, chromedp.OuterHTML("html", &doc, chromedp.ByQuery))
	return doc, err
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.s.run(ctx, chromedp.Location(&u))
	return u, err
}

// Fetch downloads url with the browser's cookies for that URL.
func (p *chromePage) Fetch(ctx context.Context, url string) ([]byte, error) {
	var (
		cookies []*network.Cookie
		ua      string
	)
	err := p.s.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{url}).Do(ctx)
			return err
		}),
		chromedp.Evaluate(`navigator.userAgent`, &ua),
	)
	if err != nil {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.s.cfg.DownloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") && !strings.HasPrefix(ct, "application/octet-stream") {
		return nil, fmt.Errorf("fetch %s: unexpected content type %s", url, ct)
	}
	return readLimited(resp.Body, url)
}

// readLimited reads at most maxFetchBytes and rejects anything longer.
func readLimited(r io.Reader, url string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("fetch %s: larger than %d bytes", url, maxFetchBytes)
	}
	return data, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 selects PNG
	err := p.s.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}
