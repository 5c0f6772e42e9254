package repository

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
)

const (
	trackingTable = "generation_tracking"
	errorsTable   = "generation_tracking_errors"

	colRecordID       = "record_id"
	colStatus         = "status"
	colRetryCount     = "retry_count"
	colStyle          = "style"
	colMode           = "mode"
	colSourceAssetURL = "source_asset_url"
	colRecordName     = "record_name"
	colOutputPath     = "output_path"
	colOutputURL      = "output_url"
	colRunID          = "run_id"
	colDuration       = "duration_seconds"
	colStartedAt      = "started_at"
	colCreatedAt      = "created_at"
	colUpdatedAt      = "updated_at"

	colSeq     = "seq"
	colMessage = "message"

	// keeps IN lists well under SQLite's bound-parameter limit
	inChunkSize = 500
)

var trackingColumns = []string{
	colRecordID, colStatus, colRetryCount, colStyle, colMode,
	colSourceAssetURL, colRecordName, colOutputPath, colOutputURL, colRunID,
	colDuration, colStartedAt, colCreatedAt, colUpdatedAt,
}

// ListFilter narrows List. Zero values mean no restriction.
type ListFilter struct {
	Statuses     []constants.TrackingStatus
	RetryCountLT int
	IDs          []int64
	Limit        int
}

type TrackingRepository interface {
	Get(ctx context.Context, id int64) (*entity.TrackingEntry, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*entity.TrackingEntry, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.TrackingEntry, error)
	UpsertStatus(ctx context.Context, id int64, status constants.TrackingStatus) error
	AppendError(ctx context.Context, id int64, message string) error
	MarkProcessing(ctx context.Context, start entity.ProcessingStart) (*entity.TrackingEntry, error)
	MarkCompleted(ctx context.Context, id int64, ref entity.OutputReference, elapsed time.Duration) error
	MarkFailed(ctx context.Context, id int64, message string, elapsed time.Duration) error
	ResetStuck(ctx context.Context, marker string) ([]int64, error)
	CountByStatus(ctx context.Context) ([]entity.StatusCount, error)
}

type trackingRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewTrackingRepository(db *DB, log *slog.Logger) TrackingRepository {
	if log == nil {
		log = slog.Default()
	}
	return &trackingRepo{db: db, log: log, now: time.Now}
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (r *trackingRepo) Get(ctx context.Context, id int64) (*entity.TrackingEntry, error) {
	entries, err := r.selectEntries(ctx, r.db.drv, entsql.EQ(colRecordID, id), 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("tracking entry %d: %w", id, common.ErrNotFound)
	}
	return entries[0], nil
}

func (r *trackingRepo) GetMany(ctx context.Context, ids []int64) (map[int64]*entity.TrackingEntry, error) {
	out := make(map[int64]*entity.TrackingEntry, len(ids))
	for start := 0; start < len(ids); start += inChunkSize {
		end := min(start+inChunkSize, len(ids))
		entries, err := r.selectEntries(ctx, r.db.drv, entsql.In(colRecordID, int64Args(ids[start:end])...), 0)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out[e.RecordID] = e
		}
	}
	return out, nil
}

func (r *trackingRepo) List(ctx context.Context, filter ListFilter) ([]*entity.TrackingEntry, error) {
	var preds []*entsql.Predicate
	if len(filter.Statuses) > 0 {
		args := make([]any, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args[i] = string(s)
		}
		preds = append(preds, entsql.In(colStatus, args...))
	}
	if filter.RetryCountLT > 0 {
		preds = append(preds, entsql.LT(colRetryCount, filter.RetryCountLT))
	}
	if len(filter.IDs) > 0 {
		preds = append(preds, entsql.In(colRecordID, int64Args(filter.IDs)...))
	}
	var where *entsql.Predicate
	if len(preds) > 0 {
		where = entsql.And(preds...)
	}
	return r.selectEntries(ctx, r.db.drv, where, filter.Limit)
}

// UpsertStatus creates the entry when absent and moves it to status,
// rejecting moves the state machine does not allow.
func (r *trackingRepo) UpsertStatus(ctx context.Context, id int64, status constants.TrackingStatus) error {
	if !status.Valid() {
		return common.NewAppError("INVALID_ARGUMENT", fmt.Sprintf("unknown status %q", status), common.ErrInvalidInput)
	}
	return r.db.withTx(ctx, func(tx dialect.Tx) error {
		cur, err := r.ensure(ctx, tx, id, "", "")
		if err != nil {
			return err
		}
		if cur.Status == status {
			return r.exec(ctx, tx, r.db.builder().Update(trackingTable).
				Set(colUpdatedAt, toMillis(r.now())).
				Where(entsql.EQ(colRecordID, id)))
		}
		if err := checkTransition(id, cur.Status, status); err != nil {
			return err
		}
		return r.exec(ctx, tx, r.db.builder().Update(trackingTable).
			Set(colStatus, string(status)).
			Set(colUpdatedAt, toMillis(r.now())).
			Where(entsql.EQ(colRecordID, id)))
	})
}

func (r *trackingRepo) AppendError(ctx context.Context, id int64, message string) error {
	return r.db.withTx(ctx, func(tx dialect.Tx) error {
		if _, err := r.getTx(ctx, tx, id); err != nil {
			return err
		}
		now := r.now()
		if err := r.appendError(ctx, tx, id, message, now); err != nil {
			return err
		}
		return r.exec(ctx, tx, r.db.builder().Update(trackingTable).
			Set(colUpdatedAt, toMillis(now)).
			Where(entsql.EQ(colRecordID, id)))
	})
}

func (r *trackingRepo) MarkProcessing(ctx context.Context, start entity.ProcessingStart) (*entity.TrackingEntry, error) {
	id := start.RecordID
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		cur, err := r.ensure(ctx, tx, id, start.SourceAssetURL, start.RecordName)
		if err != nil {
			return err
		}
		if err := checkTransition(id, cur.Status, constants.StatusProcessing); err != nil {
			return err
		}
		now := toMillis(r.now())
		upd := r.db.builder().Update(trackingTable).
			Set(colStatus, string(constants.StatusProcessing)).
			Set(colStyle, start.Style).
			Set(colMode, start.Mode).
			Set(colRunID, start.RunID).
			Set(colStartedAt, now).
			Set(colUpdatedAt, now).
			SetNull(colDuration).
			Where(entsql.EQ(colRecordID, id))
		if start.SourceAssetURL != "" {
			upd.Set(colSourceAssetURL, start.SourceAssetURL)
		}
		if start.RecordName != "" {
			upd.Set(colRecordName, start.RecordName)
		}
		return r.exec(ctx, tx, upd)
	})
	if err != nil {
		r.log.Error("tracking.processing.failed", "record_id", id, "error", err)
		return nil, err
	}
	r.log.Debug("tracking.processing", "record_id", id, "run_id", start.RunID)
	return r.Get(ctx, id)
}

func (r *trackingRepo) MarkCompleted(ctx context.Context, id int64, ref entity.OutputReference, elapsed time.Duration) error {
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		cur, err := r.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(id, cur.Status, constants.StatusCompleted); err != nil {
			return err
		}
		return r.exec(ctx, tx, r.db.builder().Update(trackingTable).
			Set(colStatus, string(constants.StatusCompleted)).
			Set(colOutputPath, ref.LocalPath).
			Set(colOutputURL, ref.PublicURL).
			Set(colDuration, roundSeconds(elapsed)).
			Set(colUpdatedAt, toMillis(r.now())).
			Where(entsql.EQ(colRecordID, id)))
	})
	if err != nil {
		r.log.Error("tracking.completed.failed", "record_id", id, "error", err)
		return err
	}
	r.log.Debug("tracking.completed", "record_id", id, "output_path", ref.LocalPath, "output_url", ref.PublicURL)
	return nil
}

func (r *trackingRepo) MarkFailed(ctx context.Context, id int64, message string, elapsed time.Duration) error {
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		cur, err := r.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(id, cur.Status, constants.StatusFailed); err != nil {
			return err
		}
		now := r.now()
		if err := r.appendError(ctx, tx, id, message, now); err != nil {
			return err
		}
		return r.exec(ctx, tx, r.db.builder().Update(trackingTable).
			Set(colStatus, string(constants.StatusFailed)).
			Add(colRetryCount, 1).
			Set(colDuration, roundSeconds(elapsed)).
			Set(colUpdatedAt, toMillis(now)).
			Where(entsql.EQ(colRecordID, id)))
	})
	if err != nil {
		r.log.Error("tracking.failed.write_failed", "record_id", id, "error", err)
		return err
	}
	r.log.Debug("tracking.failed", "record_id", id, "error", message)
	return nil
}

// ResetStuck moves every processing entry to failed and appends marker.
// retry_count is left unchanged.
func (r *trackingRepo) ResetStuck(ctx context.Context, marker string) ([]int64, error) {
	var ids []int64
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		stuck, err := r.selectEntries(ctx, tx, entsql.EQ(colStatus, string(constants.StatusProcessing)), 0)
		if err != nil {
			return err
		}
		now := r.now()
		for _, e := range stuck {
			if err := r.appendError(ctx, tx, e.RecordID, marker, now); err != nil {
				return err
			}
			err := r.exec(ctx, tx, r.db.builder().Update(trackingTable).
				Set(colStatus, string(constants.StatusFailed)).
				Set(colUpdatedAt, toMillis(now)).
				Where(entsql.And(
					entsql.EQ(colRecordID, e.RecordID),
					entsql.EQ(colStatus, string(constants.StatusProcessing)),
				)))
			if err != nil {
				return err
			}
			ids = append(ids, e.RecordID)
		}
		return nil
	})
	if err != nil {
		r.log.Error("tracking.reset_stuck.failed", "error", err)
		return nil, err
	}
	if len(ids) > 0 {
		r.log.Warn("tracking.reset_stuck", "count", len(ids), "record_ids", ids)
	}
	return ids, nil
}

func (r *trackingRepo) CountByStatus(ctx context.Context) ([]entity.StatusCount, error) {
	query, args := r.db.builder().
		Select(colStatus, entsql.Count("*")).
		From(entsql.Table(trackingTable)).
		GroupBy(colStatus).
		OrderBy(colStatus).
		Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("%w: count by status: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]entity.StatusCount, 0, len(counts))
	for _, s := range constants.Statuses() {
		out = append(out, entity.StatusCount{Status: string(s), Count: counts[string(s)]})
	}
	return out, nil
}

// ensure returns the entry for id, inserting a pending row first when absent.
func (r *trackingRepo) ensure(ctx context.Context, tx dialect.Tx, id int64, assetURL, name string) (*entity.TrackingEntry, error) {
	cur, err := r.getTx(ctx, tx, id)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	now := toMillis(r.now())
	query, args := r.db.builder().
		Insert(trackingTable).
		Columns(colRecordID, colStatus, colRetryCount, colSourceAssetURL, colRecordName, colCreatedAt, colUpdatedAt).
		Values(id, string(constants.StatusPending), 0, assetURL, name, now, now).
		OnConflict(entsql.ConflictColumns(colRecordID), entsql.DoNothing()).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return nil, fmt.Errorf("%w: insert tracking entry %d: %v", common.ErrDatabase, id, err)
	}
	return r.getTx(ctx, tx, id)
}

func (r *trackingRepo) getTx(ctx context.Context, q dialect.ExecQuerier, id int64) (*entity.TrackingEntry, error) {
	entries, err := r.selectEntries(ctx, q, entsql.EQ(colRecordID, id), 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("tracking entry %d: %w", id, common.ErrNotFound)
	}
	return entries[0], nil
}

func (r *trackingRepo) selectEntries(ctx context.Context, q dialect.ExecQuerier, where *entsql.Predicate, limit int) ([]*entity.TrackingEntry, error) {
	sel := r.db.builder().
		Select(trackingColumns...).
		From(entsql.Table(trackingTable)).
		OrderBy(colRecordID)
	if where != nil {
		sel.Where(where)
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()
	rows := &entsql.Rows{}
	if err := q.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("%w: select tracking: %v", common.ErrDatabase, err)
	}

	var entries []*entity.TrackingEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := r.loadErrors(ctx, q, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(rows *entsql.Rows) (*entity.TrackingEntry, error) {
	var (
		e         entity.TrackingEntry
		status    string
		duration  stdsql.NullFloat64
		startedAt stdsql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := rows.Scan(
		&e.RecordID, &status, &e.RetryCount, &e.Style, &e.Mode,
		&e.SourceAssetURL, &e.RecordName, &e.OutputPath, &e.OutputURL, &e.RunID,
		&duration, &startedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan tracking entry: %w", err)
	}
	e.Status = constants.TrackingStatus(status)
	if duration.Valid {
		d := duration.Float64
		e.DurationSeconds = &d
	}
	if startedAt.Valid {
		t := fromMillis(startedAt.Int64)
		e.StartedAt = &t
	}
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	e.ErrorLog = []string{}
	return &e, nil
}

func (r *trackingRepo) loadErrors(ctx context.Context, q dialect.ExecQuerier, entries []*entity.TrackingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	byID := make(map[int64]*entity.TrackingEntry, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		byID[e.RecordID] = e
		ids = append(ids, e.RecordID)
	}

	for start := 0; start < len(ids); start += inChunkSize {
		end := min(start+inChunkSize, len(ids))
		query, args := r.db.builder().
			Select(colRecordID, colMessage).
			From(entsql.Table(errorsTable)).
			Where(entsql.In(colRecordID, int64Args(ids[start:end])...)).
			OrderBy(colRecordID, colSeq).
			Query()
		rows := &entsql.Rows{}
		if err := q.Query(ctx, query, args, rows); err != nil {
			return fmt.Errorf("%w: select tracking errors: %v", common.ErrDatabase, err)
		}
		for rows.Next() {
			var (
				id  int64
				msg string
			)
			if err := rows.Scan(&id, &msg); err != nil {
				_ = rows.Close()
				return err
			}
			if e, ok := byID[id]; ok {
				e.ErrorLog = append(e.ErrorLog, msg)
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		if err := rows.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (r *trackingRepo) appendError(ctx context.Context, tx dialect.Tx, id int64, message string, at time.Time) error {
	query, args := r.db.builder().
		Select(entsql.Max(colSeq)).
		From(entsql.Table(errorsTable)).
		Where(entsql.EQ(colRecordID, id)).
		Query()
	rows := &entsql.Rows{}
	if err := tx.Query(ctx, query, args, rows); err != nil {
		return fmt.Errorf("%w: next error seq: %v", common.ErrDatabase, err)
	}
	var last stdsql.NullInt64
	if rows.Next() {
		if err := rows.Scan(&last); err != nil {
			_ = rows.Close()
			return err
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}

	query, args = r.db.builder().
		Insert(errorsTable).
		Columns(colRecordID, colSeq, colMessage, colCreatedAt).
		Values(id, last.Int64+1, message, toMillis(at)).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("%w: append error for %d: %v", common.ErrDatabase, id, err)
	}
	return nil
}

func (r *trackingRepo) exec(ctx context.Context, q dialect.ExecQuerier, b entsql.Querier) error {
	query, args := b.Query()
	if err := q.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return nil
}

func checkTransition(id int64, from, to constants.TrackingStatus) error {
	if constants.CanTransition(from, to) {
		return nil
	}
	return common.NewAppError(
		"INVALID_TRANSITION",
		fmt.Sprintf("record %d: %s -> %s", id, from, to),
		common.ErrInvalidTransition,
	)
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond).Milliseconds()) / 1000
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
