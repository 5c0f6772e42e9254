package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/runstore"
)

// Attempt records why one stage did not produce an artifact.
type Attempt struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ExhaustedError lists every stage tried when none succeeded.
type ExhaustedError struct {
	Attempts  []Attempt
	DebugPath string
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Stage, a.Error)
	}
	msg := fmt.Sprintf("all %d extraction stages failed [%s]", len(e.Attempts), strings.Join(parts, "; "))
	if e.DebugPath != "" {
		msg += fmt.Sprintf(" (debug: %s)", e.DebugPath)
	}
	return msg
}

// Result is a successful extraction.
type Result struct {
	Data  []byte
	Stage string
}

// Protocol runs stages in order; the first to return data wins.
type Protocol struct {
	stages   []Stage
	debugDir string
	logger   *slog.Logger
}

func NewProtocol(stages []Stage, debugDir string, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{stages: stages, debugDir: debugDir, logger: logger}
}

// DefaultStages returns the standard order: direct download, secondary
// affordance, inline data, static reference.
func DefaultStages(resultPattern *regexp.Regexp) []Stage {
	return []Stage{
		DirectDownload{},
		ModalDownload{Settle: 750 * time.Millisecond},
		InlineData{},
		StaticReference{Pattern: resultPattern},
	}
}

// Stages returns the stage names in execution order.
func (p *Protocol) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Extract returns the artifact from the first stage that succeeds. When every
// stage fails it captures a debug snapshot and returns an ExtractionExhausted
// error wrapping *ExhaustedError.
func (p *Protocol) Extract(ctx context.Context, page Page, label string) (*Result, error) {
	attempts := make([]Attempt, 0, len(p.stages))
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		data, err := stage.Extract(ctx, page)
		if err == nil && len(data) == 0 {
			err = fmt.Errorf("empty artifact: %w", ErrNoMatch)
		}
		if err == nil {
			p.logger.Info("extraction.stage.ok",
				"label", label,
				"stage", stage.Name(),
				"bytes", len(data),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return &Result{Data: data, Stage: stage.Name()}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		p.logger.Debug("extraction.stage.miss", "label", label, "stage", stage.Name(), "error", err)
		attempts = append(attempts, Attempt{Stage: stage.Name(), Error: err.Error()})
	}

	exhausted := &ExhaustedError{Attempts: attempts}
	if path, err := CaptureDebug(ctx, page, p.debugDir, label); err != nil {
		p.logger.Warn("extraction.debug.failed", "label", label, "error", err)
	} else {
		exhausted.DebugPath = path
	}
	p.logger.Warn("extraction.exhausted", "label", label, "stages", len(attempts), "debug", exhausted.DebugPath)
	return nil, common.NewAppError(common.KindExtractionExhausted, "no stage produced an artifact", exhausted)
}

// CaptureDebug writes a screenshot and an HTML snapshot of page into dir and
// returns the screenshot path (the HTML sits next to it). Either capture may
// fail independently; an error is returned only when both do.
func CaptureDebug(ctx context.Context, page Page, dir, label string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("debug directory not configured")
	}
	if page == nil {
		return "", fmt.Errorf("no page to capture")
	}
	stem := filepath.Join(dir, fmt.Sprintf("%s_%s", sanitize(label), time.Now().UTC().Format("20060102T150405.000")))

	var errs []error
	pngPath := stem + ".png"
	pngOK := false
	if shot, err := page.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else if err := runstore.WriteBytes(pngPath, shot); err != nil {
		errs = append(errs, err)
	} else {
		pngOK = true
	}
	htmlPath := stem + ".html"
	htmlOK := false
	if doc, err := page.HTML(ctx); err != nil {
		errs = append(errs, fmt.Errorf("html: %w", err))
	} else if err := runstore.WriteBytes(htmlPath, []byte(doc)); err != nil {
		errs = append(errs, err)
	} else {
		htmlOK = true
	}

	switch {
	case pngOK:
		return pngPath, nil
	case htmlOK:
		return htmlPath, nil
	default:
		return "", errors.Join(errs...)
	}
}

func sanitize(label string) string {
	if label == "" {
		return "page"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, label)
}
