package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/assets"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
	"github.com/joseph-ayodele/seedream-pipeline/internal/extraction"
	"github.com/joseph-ayodele/seedream-pipeline/internal/generation"
	"github.com/joseph-ayodele/seedream-pipeline/internal/repository"
	"github.com/joseph-ayodele/seedream-pipeline/internal/runstore"
)

const tracerName = "github.com/joseph-ayodele/seedream-pipeline/internal/pipeline"

// SessionOpener acquires the generation session for one run.
type SessionOpener func(ctx context.Context) (generation.Session, error)

// Acquirer resolves a record's source asset to a local file.
type Acquirer interface {
	Acquire(ctx context.Context, rec entity.Record, dir string) (*assets.Source, error)
}

// Extractor pulls the generated artifact out of a finished page.
type Extractor interface {
	Extract(ctx context.Context, page extraction.Page, label string) (*extraction.Result, error)
}

// Runner processes one batch at a time, sequentially, over a single session.
type Runner struct {
	Logger      *slog.Logger
	Source      repository.SourceRepository
	Tracking    repository.TrackingRepository
	OpenSession SessionOpener
	Assets      Acquirer
	Extractor   Extractor
	Sink        assets.Sink
	DebugDir    string

	newRunID func() string
	tracer   trace.Tracer
}

func NewRunner(
	logger *slog.Logger,
	source repository.SourceRepository,
	tracking repository.TrackingRepository,
	openSession SessionOpener,
	acquirer Acquirer,
	extractor Extractor,
	sink assets.Sink,
	debugDir string,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Logger:      logger,
		Source:      source,
		Tracking:    tracking,
		OpenSession: openSession,
		Assets:      acquirer,
		Extractor:   extractor,
		Sink:        sink,
		DebugDir:    debugDir,
		newRunID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		tracer:      otel.Tracer(tracerName),
	}
}

// Run sweeps stuck entries, selects candidates, verifies the session and
// attempts every candidate in order. The summary is returned on every path,
// including fatal aborts, with whatever was counted so far.
func (r *Runner) Run(ctx context.Context, opts Options) (entity.Summary, error) {
	opts, err := opts.normalize(r.Logger)
	if err != nil {
		return entity.Summary{}, err
	}
	runID := r.newRunID()
	ctx = common.WithRunID(ctx, runID)
	log := r.Logger.With("run_id", runID)

	lock, err := runstore.AcquireRunLock(opts.OutputDir, runID)
	if err != nil {
		return entity.Summary{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("pipeline.lock.release_failed", "error", err)
		}
	}()

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Bool("run.retry_failed", opts.RetryFailed),
		attribute.String("run.style", opts.Style),
		attribute.String("run.mode", opts.Mode),
	))
	defer span.End()

	summary, err := r.run(ctx, log, runID, opts)
	span.SetAttributes(
		attribute.Int("summary.processed", summary.Processed),
		attribute.Int("summary.succeeded", summary.Succeeded),
		attribute.Int("summary.failed", summary.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("pipeline.run.aborted", "error", err, "processed", summary.Processed)
		return summary, err
	}
	log.Info("pipeline.run.complete",
		"total_fetched", summary.TotalFetched,
		"skipped", summary.Skipped(),
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (r *Runner) run(ctx context.Context, log *slog.Logger, runID string, opts Options) (entity.Summary, error) {
	swept, err := r.Tracking.ResetStuck(ctx, constants.StuckMarker)
	if err != nil {
		return entity.Summary{}, fmt.Errorf("startup sweep: %w", err)
	}
	if len(swept) > 0 {
		log.Warn("pipeline.sweep", "count", len(swept))
	}

	sel, err := r.selectCandidates(ctx, opts)
	if err != nil {
		return entity.Summary{}, err
	}
	summary := sel.summary
	log.Info("pipeline.select",
		"retry_failed", opts.RetryFailed,
		"total_fetched", summary.TotalFetched,
		"skipped_completed", summary.SkippedCompleted,
		"skipped_failed", summary.SkippedFailed,
		"skipped_no_image", summary.SkippedNoImage,
		"candidates", len(sel.records),
	)
	if len(sel.records) == 0 {
		return summary, nil
	}

	session, err := r.OpenSession(ctx)
	if err != nil {
		return summary, common.NewAppError(common.KindSession, "open generation session", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("pipeline.session.close_failed", "error", err)
		}
	}()
	if err := r.ensureSession(ctx, log, session); err != nil {
		return summary, err
	}

	for i, rec := range sel.records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log.Info("pipeline.record.start", "record_id", rec.ID, "name", rec.Label(), "position", i+1, "total", len(sel.records))

		err := r.processRecord(ctx, log, session, runID, rec, opts)
		if err != nil && ctx.Err() != nil {
			// Left in processing; the next run's sweep reclassifies it.
			return summary, ctx.Err()
		}
		summary.Processed++
		if err == nil {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		if common.IsKind(err, common.KindSession) {
			return summary, err
		}
	}
	return summary, nil
}

// ensureSession verifies the session and allows exactly one re-login.
func (r *Runner) ensureSession(ctx context.Context, log *slog.Logger, session generation.Session) error {
	ok, err := session.Valid(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("pipeline.session.check_failed", "error", err)
	}
	if ok {
		return nil
	}

	log.Warn("pipeline.session.invalid", "action", "login")
	if err := session.Login(ctx); err != nil {
		return common.NewAppError(common.KindSession, "re-authentication failed", err)
	}
	ok, err = session.Valid(ctx)
	if err != nil {
		return common.NewAppError(common.KindSession, "session check after re-authentication", err)
	}
	if !ok {
		return common.NewAppError(common.KindSession, "session still invalid after re-authentication", generation.ErrSessionExpired)
	}
	log.Info("pipeline.session.refreshed")
	return nil
}

// processRecord runs one attempt and persists its outcome. The returned error
// is the attempt's failure, already recorded on the tracking entry.
func (r *Runner) processRecord(ctx context.Context, log *slog.Logger, session generation.Session, runID string, rec entity.Record, opts Options) error {
	start := time.Now()
	ctx = common.WithRecordID(ctx, rec.ID)
	log = log.With("record_id", rec.ID)

	ctx, span := r.tracer.Start(ctx, "pipeline.record", trace.WithAttributes(
		attribute.Int64("record.id", rec.ID),
		attribute.String("record.name", rec.Label()),
	))
	defer span.End()

	_, err := r.Tracking.MarkProcessing(ctx, entity.ProcessingStart{
		RecordID:       rec.ID,
		Style:          opts.Style,
		Mode:           opts.Mode,
		SourceAssetURL: rec.AssetURL,
		RecordName:     rec.Label(),
		RunID:          runID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark processing")
		log.Error("pipeline.record.start_failed", "error", err)
		return err
	}

	ref, stage, err := r.attempt(ctx, log, session, rec, opts, start)
	if err == nil {
		span.SetAttributes(attribute.String("extraction.stage", stage))
		log.Info("pipeline.record.completed",
			"stage", stage,
			"output_path", ref.LocalPath,
			"output_url", ref.PublicURL,
			"duration_s", time.Since(start).Seconds(),
		)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	kind := common.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	log.Error("pipeline.record.failed", "kind", kind, "error", err)
	if markErr := r.Tracking.MarkFailed(ctx, rec.ID, common.LogEntry(err), time.Since(start)); markErr != nil {
		log.Error("pipeline.record.persist_failed", "error", markErr)
	}
	return err
}

func (r *Runner) attempt(ctx context.Context, log *slog.Logger, session generation.Session, rec entity.Record, opts Options, start time.Time) (entity.OutputReference, string, error) {
	src, err := r.Assets.Acquire(ctx, rec, opts.OutputDir)
	if err != nil {
		return entity.OutputReference{}, "", err
	}

	label := strconv.FormatInt(rec.ID, 10) + "_" + rec.Label()
	page, err := session.Invoke(ctx, generation.Request{
		RecordID:  rec.ID,
		ImagePath: src.Path,
		Prompt:    opts.Prompt,
		Style:     opts.Style,
		Mode:      opts.Mode,
	})
	if err != nil {
		return entity.OutputReference{}, "", r.invokeError(ctx, log, page, label, err)
	}

	res, err := r.Extractor.Extract(ctx, page, label)
	if err != nil {
		return entity.OutputReference{}, "", err
	}

	ref, err := r.Sink.Store(ctx, rec.ID, res.Data)
	if err != nil {
		if common.KindOf(err) == common.KindUnknown {
			err = common.NewAppError(common.KindSink, "store artifact", err)
		}
		return entity.OutputReference{}, "", err
	}

	if err := r.Tracking.MarkCompleted(ctx, rec.ID, ref, time.Since(start)); err != nil {
		return entity.OutputReference{}, "", common.NewAppError(common.KindUnknown, "record completion", err)
	}
	if err := src.Remove(); err != nil {
		log.Warn("pipeline.source.cleanup_failed", "path", src.Path, "error", err)
	}
	return ref, res.Stage, nil
}

// invokeError classifies a generation failure. Timeouts also capture the
// page state for offline diagnosis.
func (r *Runner) invokeError(ctx context.Context, log *slog.Logger, page extraction.Page, label string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, generation.ErrTimeout):
		msg := "generation did not complete in time"
		if path, derr := extraction.CaptureDebug(ctx, page, r.DebugDir, label+"_timeout"); derr != nil {
			log.Warn("pipeline.debug.failed", "error", derr)
		} else {
			msg = fmt.Sprintf("%s (debug: %s)", msg, path)
		}
		return common.NewAppError(common.KindGenerationTimeout, msg, err)
	case errors.Is(err, generation.ErrSessionExpired):
		return common.NewAppError(common.KindSession, "session expired during generation", err)
	case errors.Is(err, generation.ErrServiceUnavailable):
		return common.NewAppError(common.KindGenerationService, "generation service error", err)
	}
	if common.KindOf(err) != common.KindUnknown {
		return err
	}
	return common.NewAppError(common.KindUnknown, "generation failed", err)
}
