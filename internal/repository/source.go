package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
)

// SourceColumns names the record source table and the columns read from it.
type SourceColumns struct {
	Table       string
	ID          string
	Image       string
	Name        string
	DisplayName string
}

// SourceQuery narrows a source fetch. IDs and Filter may be combined; Limit 0
// means unbounded.
type SourceQuery struct {
	Filter json.RawMessage
	IDs    []int64
	Limit  int
}

type SourceRepository interface {
	Fetch(ctx context.Context, q SourceQuery) ([]entity.Record, error)
}

type sourceRepo struct {
	db   *DB
	cols SourceColumns
	log  *slog.Logger
}

func NewSourceRepository(db *DB, cols SourceColumns, log *slog.Logger) (SourceRepository, error) {
	if log == nil {
		log = slog.Default()
	}
	v := common.NewValidator()
	v.Field("table", cols.Table, common.Identifier)
	v.Field("id column", cols.ID, common.Identifier)
	v.Field("image column", cols.Image, common.Identifier)
	v.Field("name column", cols.Name, common.Identifier)
	v.Field("display name column", cols.DisplayName, common.Identifier)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	return &sourceRepo{db: db, cols: cols, log: log}, nil
}

func (r *sourceRepo) Fetch(ctx context.Context, q SourceQuery) ([]entity.Record, error) {
	var preds []*entsql.Predicate
	if len(q.IDs) > 0 {
		preds = append(preds, entsql.In(r.cols.ID, int64Args(q.IDs)...))
	}
	filter, err := ParseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	if filter != nil {
		preds = append(preds, filter)
	}

	sel := r.db.builder().
		Select(r.cols.ID, r.cols.Image, r.cols.Name, r.cols.DisplayName).
		From(entsql.Table(r.cols.Table)).
		OrderBy(r.cols.ID)
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if q.Limit > 0 {
		sel.Limit(q.Limit)
	}

	query, args := sel.Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, query, args, rows); err != nil {
		r.log.Error("source.fetch.failed", "table", r.cols.Table, "error", err)
		return nil, fmt.Errorf("%w: fetch records: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Record
	for rows.Next() {
		var (
			rec                      entity.Record
			image, name, displayName stdsql.NullString
		)
		if err := rows.Scan(&rec.ID, &image, &name, &displayName); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.AssetURL = image.String
		rec.Name = name.String
		rec.DisplayName = displayName.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.log.Info("source.fetch.ok",
		"table", r.cols.Table,
		"ids", len(q.IDs),
		"filtered", len(q.Filter) > 0,
		"limit", q.Limit,
		"rows", len(out),
	)
	return out, nil
}
