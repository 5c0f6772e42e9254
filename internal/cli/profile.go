package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// RunProfile is a reusable set of run options stored as YAML. Flags given on
// the command line win over profile values.
type RunProfile struct {
	Limit       *int           `yaml:"limit"`
	PlayerIDs   []int64        `yaml:"player_ids"`
	Filter      map[string]any `yaml:"filter"`
	Style       string         `yaml:"style"`
	Mode        string         `yaml:"mode"`
	PromptFile  string         `yaml:"prompt_file"`
	OutputDir   string         `yaml:"output_dir"`
	RetryFailed *bool          `yaml:"retry_failed"`
	MaxRetries  *int           `yaml:"max_retries"`
}

func loadProfile(path string) (*RunProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p RunProfile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// apply copies profile values into opts for every flag not set explicitly.
func (p *RunProfile) apply(flags *pflag.FlagSet, opts *RunOptions) error {
	set := func(name string) bool { return !flags.Changed(name) }

	if p.Limit != nil && set("limit") {
		opts.Limit = *p.Limit
	}
	if len(p.PlayerIDs) > 0 && set("player-ids") {
		opts.PlayerIDs = p.PlayerIDs
	}
	if len(p.Filter) > 0 && set("filter") {
		raw, err := json.Marshal(p.Filter)
		if err != nil {
			return fmt.Errorf("profile filter: %w", err)
		}
		opts.Filter = string(raw)
	}
	if p.Style != "" && set("style") {
		opts.Style = p.Style
	}
	if p.Mode != "" && set("mode") {
		opts.Mode = p.Mode
	}
	if p.PromptFile != "" && set("prompt-file") {
		opts.PromptFile = p.PromptFile
	}
	if p.OutputDir != "" && set("output-dir") {
		opts.OutputDir = p.OutputDir
	}
	if p.RetryFailed != nil && set("retry-failed") {
		opts.RetryFailed = *p.RetryFailed
	}
	if p.MaxRetries != nil && set("max-retries") {
		opts.MaxRetries = *p.MaxRetries
	}
	return nil
}
