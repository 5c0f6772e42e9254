package seedream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// InteractiveLogin opens a visible browser on the editor and waits until the
// operator has signed in, then persists and returns the session state.
func InteractiveLogin(ctx context.Context, cfg Config, logger *slog.Logger) (*StorageState, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	allocCtx, allocCancel := newAllocator(false)
	defer allocCancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if err := chromedp.Run(browserCtx); err != nil {
		return nil, fmt.Errorf("start login browser: %w", err)
	}
	s := &Session{cfg: cfg, logger: logger, ctx: browserCtx}

	if existing, err := LoadState(cfg.StatePath); err == nil && !existing.Empty() {
		if params := existing.CookieParams(time.Now()); len(params) > 0 {
			_ = s.run(ctx, network.SetCookies(params))
		}
	}
	if err := s.run(ctx, chromedp.Navigate(cfg.EditorURL)); err != nil {
		return nil, fmt.Errorf("open editor: %w", err)
	}
	logger.Info("seedream.login.waiting", "url", cfg.EditorURL, "timeout", cfg.LoginTimeout)

	waitCtx, waitCancel := context.WithTimeout(ctx, cfg.LoginTimeout)
	defer waitCancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("sign in not completed within %s", cfg.LoginTimeout)
		case <-ticker.C:
		}
		p, err := s.probe(waitCtx)
		if err != nil || p.loginRequired() || p.URL == "" {
			continue
		}
		if hasAuthCookie(waitCtx, s) {
			break
		}
	}

	return s.saveState(ctx)
}

func hasAuthCookie(ctx context.Context, s *Session) bool {
	cookies, err := s.cookies(ctx)
	if err != nil {
		return false
	}
	for _, c := range cookies {
		if isAuthCookie(c.Name) {
			return true
		}
	}
	return false
}
