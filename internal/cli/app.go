package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/seedream-pipeline/internal/assets"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/generation/seedream"
	"github.com/joseph-ayodele/seedream-pipeline/internal/repository"
)

const appName = "seedream-pipeline"

// loadConfig reads the environment and applies an output directory override.
// The debug directory follows the output directory unless DEBUG_DIR is set.
func loadConfig(outputDir string) (*common.Config, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
		if os.Getenv("DEBUG_DIR") == "" {
			cfg.DebugDir = filepath.Join(outputDir, "debug")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

func dbConfig(db common.DatabaseConfig, conn common.ConnectConfig) repository.Config {
	return repository.Config{
		Driver:      db.Driver,
		DSN:         db.DSN,
		MaxConns:    conn.MaxConns,
		DialTimeout: conn.DialTimeout,
		Attempts:    conn.Attempts,
		Delay:       conn.Delay,
		AppName:     appName,
	}
}

// openTracking connects to the tracking store and applies migrations.
func openTracking(ctx context.Context, cfg *common.Config, log *slog.Logger) (*repository.DB, repository.TrackingRepository, error) {
	db, err := repository.Open(ctx, dbConfig(cfg.Tracking, cfg.Connect), log)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "open tracking store", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, WrapExitError(ExitFailure, "migrate tracking store", err)
	}
	return db, repository.NewTrackingRepository(db, log), nil
}

// openSource connects to the read-only record source.
func openSource(ctx context.Context, cfg *common.Config, log *slog.Logger) (*repository.DB, repository.SourceRepository, error) {
	if err := cfg.ValidateSource(); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid source config", err)
	}
	src := common.DatabaseConfig{Driver: cfg.Source.Driver, DSN: cfg.Source.DSN}
	db, err := repository.Open(ctx, dbConfig(src, cfg.Connect), log)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "open record source", err)
	}
	repo, err := repository.NewSourceRepository(db, repository.SourceColumns{
		Table:       cfg.Source.Table,
		ID:          cfg.Source.IDColumn,
		Image:       cfg.Source.ImageColumn,
		Name:        cfg.Source.NameColumn,
		DisplayName: cfg.Source.DisplayNameColumn,
	}, log)
	if err != nil {
		db.Close()
		return nil, nil, WrapExitError(ExitCommandError, "record source", err)
	}
	return db, repo, nil
}

// buildSink always writes locally and adds the Spaces upload when configured.
func buildSink(ctx context.Context, cfg *common.Config, log *slog.Logger) (assets.Sink, error) {
	local := assets.NewLocalSink(cfg.OutputDir, log)
	if !cfg.SpacesEnabled() {
		return local, nil
	}
	spaces, err := assets.NewSpacesSink(ctx, assets.SpacesConfig{
		OriginEndpoint: cfg.Spaces.OriginEndpoint,
		CDNEndpoint:    cfg.Spaces.CDNEndpoint,
		Bucket:         cfg.Spaces.Bucket,
		AccessKeyID:    cfg.Spaces.AccessKeyID,
		SecretKey:      cfg.Spaces.SecretKey,
		Folder:         cfg.Spaces.Folder,
	}, log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "spaces upload", err)
	}
	log.Info("cli.sink.spaces", "bucket", cfg.Spaces.Bucket, "folder", cfg.Spaces.Folder)
	return assets.MultiSink{local, spaces}, nil
}

func seedreamConfig(cfg *common.Config) seedream.Config {
	return seedream.Config{
		EditorURL:         cfg.Seedream.EditorURL,
		StatePath:         cfg.Seedream.StatePath,
		Headless:          cfg.Seedream.Headless,
		GenerationTimeout: cfg.Seedream.GenerationTimeout,
		LoginTimeout:      cfg.Seedream.LoginTimeout,
		DownloadTimeout:   cfg.Seedream.DownloadTimeout,
	}
}

// exitFor maps a pipeline error onto an exit code.
func exitFor(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if errors.Is(err, common.ErrInvalidInput) || errors.Is(err, common.ErrValidation) {
		return WrapExitError(ExitCommandError, message, err)
	}
	if kind := common.KindOf(err); kind != common.KindUnknown {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s (%s)", message, kind), err)
	}
	return WrapExitError(ExitFailure, message, err)
}
