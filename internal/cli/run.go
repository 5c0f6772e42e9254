package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/assets"
	"github.com/joseph-ayodele/seedream-pipeline/internal/extraction"
	"github.com/joseph-ayodele/seedream-pipeline/internal/generation"
	"github.com/joseph-ayodele/seedream-pipeline/internal/generation/seedream"
	"github.com/joseph-ayodele/seedream-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/seedream-pipeline/internal/repository"
	"github.com/joseph-ayodele/seedream-pipeline/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Limit       int
	PlayerIDs   []int64
	Filter      string
	Style       string
	Mode        string
	PromptFile  string
	OutputDir   string
	RetryFailed bool
	MaxRetries  int
	Profile     string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a batch of players",
		Long: `Process a batch of players through the editor.

Every run first marks entries left in processing by an earlier crash as
failed. Normal mode then reads players from the source table and skips
anything already completed or failed. Retry mode (--retry-failed) instead
picks failed entries whose retry count is below --max-retries.

Example:
  seedream-pipeline run --limit 10
  seedream-pipeline run --player-ids 101,102 --style anime
  seedream-pipeline run --filter '{"name":{"$in":["Saka","Rice"]}}'
  seedream-pipeline run --retry-failed --max-retries 3
  seedream-pipeline run --profile nightly.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Profile != "" {
				p, err := loadProfile(opts.Profile)
				if err != nil {
					return WrapExitError(ExitCommandError, "run profile", err)
				}
				if err := p.apply(cmd.Flags(), opts); err != nil {
					return WrapExitError(ExitCommandError, "run profile", err)
				}
			}
			return runBatch(contextOf(cmd), opts, cmd)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Limit, "limit", 0, "maximum number of players to select (0 = no limit)")
	f.Int64SliceVar(&opts.PlayerIDs, "player-ids", nil, "only these player ids (comma separated)")
	f.StringVar(&opts.Filter, "filter", "", "JSON query filter over source columns (normal mode only)")
	f.StringVar(&opts.Style, "style", string(constants.DefaultStyle), "editor style: "+strings.Join(constants.StylesAsStringSlice(), ", "))
	f.StringVar(&opts.Mode, "mode", string(constants.DefaultMode), "editor mode: "+strings.Join(constants.ModesAsStringSlice(), ", "))
	f.StringVar(&opts.PromptFile, "prompt-file", pipeline.DefaultPromptFile, "master prompt file")
	f.StringVar(&opts.OutputDir, "output-dir", "", "output directory (overrides OUTPUT_DIR)")
	f.BoolVar(&opts.RetryFailed, "retry-failed", false, "retry failed entries instead of reading the source")
	f.IntVar(&opts.MaxRetries, "max-retries", constants.DefaultMaxRetries, "retry ceiling for --retry-failed")
	f.StringVar(&opts.Profile, "profile", "", "YAML run profile; explicit flags override it")

	return cmd
}

func runBatch(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := slog.Default()

	cfg, err := loadConfig(opts.OutputDir)
	if err != nil {
		return err
	}
	prompt, err := pipeline.LoadPrompt(opts.PromptFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "master prompt", err)
	}
	var filter json.RawMessage
	if strings.TrimSpace(opts.Filter) != "" {
		filter = json.RawMessage(opts.Filter)
		if _, err := repository.ParseFilter(filter); err != nil {
			return WrapExitError(ExitCommandError, "filter", err)
		}
	}
	pattern, err := regexp.Compile(cfg.Seedream.ResultPattern)
	if err != nil {
		return WrapExitError(ExitCommandError, "SEEDREAM_RESULT_PATTERN", err)
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, appName, cmd.Root().Version)
	if err != nil {
		log.Warn("cli.telemetry.disabled", "error", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	trackingDB, tracking, err := openTracking(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer trackingDB.Close()

	// Retry mode works from tracking entries alone; the source only fills in
	// entries recorded without an asset reference.
	var source repository.SourceRepository
	if !opts.RetryFailed || cfg.Source.DSN != "" {
		sourceDB, src, err := openSource(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer sourceDB.Close()
		source = src
	}

	sink, err := buildSink(ctx, cfg, log)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(
		log,
		source,
		tracking,
		func(ctx context.Context) (generation.Session, error) {
			s, err := seedream.Open(ctx, seedreamConfig(cfg), log)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		assets.NewDownloader(assets.DownloaderConfig{
			Timeout:  cfg.Assets.DownloadTimeout,
			Attempts: cfg.Assets.DownloadAttempts,
		}, log),
		extraction.NewProtocol(extraction.DefaultStages(pattern), cfg.DebugDir, log),
		sink,
		cfg.DebugDir,
	)

	summary, runErr := runner.Run(ctx, pipeline.Options{
		RetryFailed: opts.RetryFailed,
		IDs:         opts.PlayerIDs,
		Filter:      filter,
		Limit:       opts.Limit,
		MaxRetries:  &opts.MaxRetries,
		Style:       opts.Style,
		Mode:        opts.Mode,
		Prompt:      prompt,
		OutputDir:   cfg.OutputDir,
	})
	if err := writeSummary(cmd.OutOrStdout(), opts.Format, summary); err != nil {
		log.Warn("cli.summary.write_failed", "error", err)
	}
	if runErr != nil {
		return exitFor("run aborted", runErr)
	}
	return nil
}
