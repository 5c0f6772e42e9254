package pipeline

import (
	"context"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
	"github.com/joseph-ayodele/seedream-pipeline/internal/repository"
)

// selection is the outcome of candidate selection: records to attempt and
// the fetch/skip counters that led to them.
type selection struct {
	records []entity.Record
	summary entity.Summary
}

func (r *Runner) selectCandidates(ctx context.Context, opts Options) (selection, error) {
	if opts.RetryFailed {
		return r.selectRetry(ctx, opts)
	}
	return r.selectNormal(ctx, opts)
}

// selectNormal reads the record source and drops anything already completed
// or failed, or without a source asset.
func (r *Runner) selectNormal(ctx context.Context, opts Options) (selection, error) {
	if r.Source == nil {
		return selection{}, common.NewAppError("INVALID_ARGUMENT", "record source not configured", common.ErrInvalidInput)
	}
	records, err := r.Source.Fetch(ctx, repository.SourceQuery{Filter: opts.Filter, IDs: opts.IDs, Limit: opts.Limit})
	if err != nil {
		return selection{}, common.WrapError(err, "fetch records")
	}

	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	entries, err := r.Tracking.GetMany(ctx, ids)
	if err != nil {
		return selection{}, common.WrapError(err, "load tracking entries")
	}

	sel := selection{summary: entity.Summary{TotalFetched: len(records)}}
	for _, rec := range records {
		if entry, ok := entries[rec.ID]; ok {
			switch entry.Status {
			case constants.StatusCompleted:
				sel.summary.SkippedCompleted++
				continue
			case constants.StatusFailed:
				sel.summary.SkippedFailed++
				continue
			}
		}
		if !rec.HasAsset() {
			r.Logger.Debug("pipeline.select.no_image", "record_id", rec.ID)
			sel.summary.SkippedNoImage++
			continue
		}
		sel.records = append(sel.records, rec)
	}
	return sel, nil
}

// selectRetry picks failed entries still under the retry ceiling. Entries
// that predate source_asset_url tracking are filled in from the record
// source when one is configured.
func (r *Runner) selectRetry(ctx context.Context, opts Options) (selection, error) {
	if opts.retryCeiling() == 0 {
		r.Logger.Info("pipeline.select.retry_disabled", "max_retries", 0)
		return selection{}, nil
	}
	entries, err := r.Tracking.List(ctx, repository.ListFilter{
		Statuses:     []constants.TrackingStatus{constants.StatusFailed},
		RetryCountLT: opts.retryCeiling(),
		IDs:          opts.IDs,
		Limit:        opts.Limit,
	})
	if err != nil {
		return selection{}, common.WrapError(err, "list retry candidates")
	}

	records := make([]entity.Record, len(entries))
	var missing []int64
	for i, e := range entries {
		records[i] = e.AsRecord()
		if !records[i].HasAsset() {
			missing = append(missing, e.RecordID)
		}
	}
	if len(missing) > 0 && r.Source != nil {
		found, err := r.Source.Fetch(ctx, repository.SourceQuery{IDs: missing})
		if err != nil {
			r.Logger.Warn("pipeline.select.enrich_failed", "ids", len(missing), "error", err)
		} else {
			byID := make(map[int64]entity.Record, len(found))
			for _, rec := range found {
				byID[rec.ID] = rec
			}
			for i := range records {
				if rec, ok := byID[records[i].ID]; ok && !records[i].HasAsset() {
					records[i] = rec
				}
			}
		}
	}

	sel := selection{summary: entity.Summary{TotalFetched: len(records)}}
	for _, rec := range records {
		if !rec.HasAsset() {
			sel.summary.SkippedNoImage++
			continue
		}
		sel.records = append(sel.records, rec)
	}
	return sel, nil
}
