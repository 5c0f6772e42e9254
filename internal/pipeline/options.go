// Package pipeline selects records, drives each one through acquisition,
// generation, extraction and persistence, and records the outcome.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

// Options controls one batch run.
type Options struct {
	// RetryFailed selects failed entries under MaxRetries instead of source records.
	RetryFailed bool
	IDs         []int64
	Filter      json.RawMessage
	Limit       int
	// MaxRetries is the retry ceiling; nil means DefaultMaxRetries and 0
	// disables retry selection.
	MaxRetries  *int
	Style       string
	Mode        string
	Prompt      string
	OutputDir   string
}

// retryCeiling is only meaningful after normalize.
func (o Options) retryCeiling() int {
	if o.MaxRetries == nil {
		return constants.DefaultMaxRetries
	}
	return *o.MaxRetries
}

func (o Options) hasFilter() bool {
	f := strings.TrimSpace(string(o.Filter))
	return f != "" && f != "null"
}

// normalize applies defaults and canonical preset names, then validates.
func (o Options) normalize(logger *slog.Logger) (Options, error) {
	if o.MaxRetries == nil {
		n := constants.DefaultMaxRetries
		o.MaxRetries = &n
	}
	if o.OutputDir == "" {
		o.OutputDir = "./output"
	}

	style, ok := constants.CanonicalizeStyle(o.Style)
	if !ok {
		logger.Warn("pipeline.style.unknown", "style", o.Style, "known", constants.StylesAsStringSlice())
	}
	o.Style = string(style)
	mode, ok := constants.CanonicalizeMode(o.Mode)
	if !ok {
		logger.Warn("pipeline.mode.unknown", "mode", o.Mode, "known", constants.ModesAsStringSlice())
	}
	o.Mode = string(mode)
	o.Prompt = strings.TrimSpace(o.Prompt)

	v := common.NewValidator()
	v.Field("prompt", o.Prompt, common.Required)
	v.Field("limit", o.Limit, common.NonNegative)
	v.Field("max_retries", *o.MaxRetries, common.NonNegative)
	v.Check(!(o.RetryFailed && o.hasFilter()), "filter", string(o.Filter), "cannot be combined with retry mode")
	for _, id := range o.IDs {
		if id <= 0 {
			v.Check(false, "ids", id, fmt.Sprintf("identifier %d must be positive", id))
		}
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return o, err
	}
	return o, nil
}
