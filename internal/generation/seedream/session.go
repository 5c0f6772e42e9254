// Package seedream drives the Seedream photo editor through a headless
// Chrome session.
package seedream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/joseph-ayodele/seedream-pipeline/internal/extraction"
	"github.com/joseph-ayodele/seedream-pipeline/internal/generation"
)

const (
	DefaultEditorURL = "https://seedream.pro/ai-photo-editor"

	generatorAnchor  = `a[href="#generator"]`
	fileInput        = `input[type="file"]`
	promptArea       = `textarea`
	applyButtonXPath = `//button[contains(normalize-space(.), 'Apply Edits')]`
	signInXPath      = `//button[normalize-space(.)='Sign In' or normalize-space(.)='Login' or normalize-space(.)='Log in'] | //a[normalize-space(.)='Sign In' or normalize-space(.)='Login' or normalize-space(.)='Log in']`

	pollInterval = time.Second
	uploadSettle = 2 * time.Second
)

var busyPhrases = []string{
	"high demand",
	"try again later",
	"server is busy",
	"service unavailable",
	"too many requests",
	"queue is full",
}

type Config struct {
	EditorURL         string
	StatePath         string
	Headless          bool
	GenerationTimeout time.Duration
	LoginTimeout      time.Duration
	DownloadTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.EditorURL == "" {
		c.EditorURL = DefaultEditorURL
	}
	if c.StatePath == "" {
		c.StatePath = "state.json"
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 2 * time.Minute
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 5 * time.Minute
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Second
	}
	return c
}

// Session is a browser bound to the editor. It is not safe for concurrent use.
type Session struct {
	cfg         Config
	logger      *slog.Logger
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	downloadDir string
	page        *chromePage
}

var _ generation.Session = (*Session)(nil)

// Open launches the browser, restores the saved session state and enables
// download capture.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	downloadDir, err := os.MkdirTemp("", "seedream-downloads-*")
	if err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	allocCtx, allocCancel := newAllocator(cfg.Headless)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
	}))

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		downloadDir: downloadDir,
	}
	s.page = &chromePage{s: s}

	// The first Run allocates the browser and must not carry a deadline, or
	// the browser dies with it.
	if err := chromedp.Run(browserCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	err = s.run(ctx, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(downloadDir).
		WithEventsEnabled(true))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("enable downloads: %w", err)
	}

	if err := s.restoreState(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("seedream.session.opened", "headless", cfg.Headless, "state", cfg.StatePath)
	return s, nil
}

func newAllocator(headless bool) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.WindowSize(1440, 1000),
	)
	return chromedp.NewExecAllocator(context.Background(), opts...)
}

// run executes actions on the browser tab, bounded by ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var c2 context.CancelFunc
		runCtx, c2 = context.WithDeadline(runCtx, dl)
		defer c2()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) restoreState(ctx context.Context) error {
	st, err := LoadState(s.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load session state: %w", err)
	}
	return s.applyState(ctx, st)
}

func (s *Session) applyState(ctx context.Context, st *StorageState) error {
	if st.Empty() {
		s.logger.Warn("seedream.session.no_state", "path", s.cfg.StatePath)
		return nil
	}
	params := st.CookieParams(time.Now())
	if len(params) == 0 {
		return nil
	}
	if err := s.run(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("restore cookies: %w", err)
	}
	s.logger.Debug("seedream.session.cookies_restored", "count", len(params))
	return nil
}

func (s *Session) cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

// saveState persists the browser's current cookies to the state file.
func (s *Session) saveState(ctx context.Context) (*StorageState, error) {
	cookies, err := s.cookies(ctx)
	if err != nil {
		return nil, err
	}
	st := StateFromCookies(cookies)
	if err := st.Save(s.cfg.StatePath); err != nil {
		return nil, err
	}
	s.logger.Info("seedream.session.saved", "path", s.cfg.StatePath, "cookies", len(cookies))
	return st, nil
}

// probe is a snapshot of what the editor is showing.
type probe struct {
	URL    string `json:"url"`
	SignIn bool   `json:"signIn"`
	Busy   bool   `json:"busy"`
	Done   bool   `json:"done"`
}

func (p probe) loginRequired() bool {
	return p.SignIn || strings.Contains(strings.ToLower(p.URL), "/login")
}

func (s *Session) probe(ctx context.Context) (probe, error) {
	phrases, _ := json.Marshal(busyPhrases)
	script := fmt.Sprintf(`(() => {
		const text = ((document.body && document.body.innerText) || '').toLowerCase();
		return {
			url: location.href,
			signIn: %s,
			busy: %s.some(p => text.includes(p)),
			done: %s || %s,
		};
	})()`,
		visibleJS(signInXPath),
		string(phrases),
		visibleJS(extraction.DownloadButtonXPath),
		visibleJS(extraction.ResultModalXPath),
	)
	var p probe
	err := s.run(ctx, chromedp.Evaluate(script, &p))
	return p, err
}

// Valid checks the stored credentials locally, then confirms in the browser
// that the editor does not ask for sign in.
func (s *Session) Valid(ctx context.Context) (bool, error) {
	st, err := LoadState(s.cfg.StatePath)
	if err != nil {
		return false, err
	}
	if expired, reason := st.ExpiredAuth(time.Now()); expired {
		s.logger.Warn("seedream.session.expired_locally", "reason", reason)
		return false, nil
	}

	err = s.run(ctx,
		chromedp.Navigate(s.cfg.EditorURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return false, fmt.Errorf("open editor: %w", err)
	}
	p, err := s.probe(ctx)
	if err != nil {
		return false, err
	}
	if p.loginRequired() {
		s.logger.Warn("seedream.session.login_required", "url", p.URL)
		return false, nil
	}
	return true, nil
}

// Login runs an interactive sign in in a visible browser, persists the new
// state and loads it into this session.
func (s *Session) Login(ctx context.Context) error {
	st, err := InteractiveLogin(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	return s.applyState(ctx, st)
}

// Invoke uploads the image, submits the prompt and waits for a result
// affordance. On failure the page is still returned when the browser is
// usable, so callers can capture diagnostics.
func (s *Session) Invoke(ctx context.Context, req generation.Request) (extraction.Page, error) {
	imagePath, err := filepath.Abs(req.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("resolve image path: %w", err)
	}

	err = s.run(ctx,
		chromedp.Navigate(s.cfg.EditorURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("open editor: %w", err)
	}
	if p, err := s.probe(ctx); err == nil && p.loginRequired() {
		return s.page, fmt.Errorf("editor redirected to sign in: %w", generation.ErrSessionExpired)
	}

	s.revealGenerator(ctx)
	s.choose(ctx, "style", req.Style)
	s.choose(ctx, "mode", req.Mode)

	err = s.run(ctx,
		chromedp.SetUploadFiles(fileInput, []string{imagePath}, chromedp.ByQuery),
		chromedp.Sleep(uploadSettle),
		chromedp.Evaluate(setPromptJS(req.Prompt), nil),
	)
	if err != nil {
		return s.page, fmt.Errorf("prepare edit: %w", err)
	}

	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(clickJS(applyButtonXPath), &clicked)); err != nil {
		return s.page, fmt.Errorf("submit edit: %w", err)
	}
	if !clicked {
		return s.page, fmt.Errorf("apply control not found")
	}
	s.logger.Debug("seedream.invoke.submitted", "record_id", req.RecordID)

	return s.page, s.awaitResult(ctx, req.RecordID)
}

func (s *Session) awaitResult(ctx context.Context, recordID int64) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("no result after %s: %w", s.cfg.GenerationTimeout, generation.ErrTimeout)
		case <-ticker.C:
		}

		p, err := s.probe(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				continue
			}
			return fmt.Errorf("poll editor: %w", err)
		}
		switch {
		case p.loginRequired():
			return fmt.Errorf("session lost during generation: %w", generation.ErrSessionExpired)
		case p.Busy:
			return fmt.Errorf("editor reported it is busy: %w", generation.ErrServiceUnavailable)
		case p.Done:
			s.logger.Info("seedream.invoke.complete", "record_id", recordID, "elapsed_ms", time.Since(start).Milliseconds())
			return nil
		}
	}
}

// revealGenerator jumps to the editor section, scrolling when the anchor is missing.
func (s *Session) revealGenerator(ctx context.Context) {
	clickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.run(clickCtx, chromedp.Click(generatorAnchor, chromedp.ByQuery, chromedp.NodeVisible)); err == nil {
		return
	}
	s.logger.Debug("seedream.generator_anchor.missing")
	_ = s.run(ctx, chromedp.Evaluate(`window.scrollBy(0, 1000)`, nil))
}

// choose selects a preset by its visible label. Missing presets are skipped.
func (s *Session) choose(ctx context.Context, kind, label string) {
	if strings.TrimSpace(label) == "" {
		return
	}
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(chooseJS(label), &ok)); err != nil || !ok {
		s.logger.Debug("seedream.preset.not_found", "kind", kind, "label", label, "error", err)
	}
}

// Close shuts the browser down and removes captured downloads.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	var err error
	if s.downloadDir != "" {
		err = os.RemoveAll(s.downloadDir)
	}
	s.logger.Debug("seedream.session.closed")
	return err
}

// Page returns the tab the session drives.
func (s *Session) Page() extraction.Page {
	return s.page
}
