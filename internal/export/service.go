package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
	"github.com/joseph-ayodele/seedream-pipeline/internal/repository"
)

const (
	trackingSheet = "Tracking"
	errorsSheet   = "Errors"
)

// Service is a tiny façade over the tracking repository that produces XLSX bytes for exports.
type Service struct {
	tracking repository.TrackingRepository
	logger   *slog.Logger
}

func NewService(tracking repository.TrackingRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tracking: tracking, logger: logger}
}

// Filter narrows an export. Zero values export everything.
type Filter struct {
	Statuses []constants.TrackingStatus
	// Since keeps entries updated at or after this instant.
	Since *time.Time
}

// ExportTrackingXLSX returns a workbook with one row per tracking entry and
// a second sheet holding every error log line.
func (s *Service) ExportTrackingXLSX(ctx context.Context, filter Filter) ([]byte, error) {
	start := time.Now()

	entries, err := s.tracking.List(ctx, repository.ListFilter{Statuses: filter.Statuses})
	if err != nil {
		return nil, fmt.Errorf("query tracking entries: %w", err)
	}
	if filter.Since != nil {
		kept := entries[:0]
		for _, e := range entries {
			if !e.UpdatedAt.Before(*filter.Since) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName(f.GetSheetName(0), trackingSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(errorsSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(trackingSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Record ID",
		"Name",
		"Status",
		"Retry Count",
		"Style",
		"Mode",
		"Duration (s)",
		"Last Error",
		"Output Path",
		"Output URL",
		"Source Asset",
		"Run ID",
		"Updated At",
	}
	writeRow(f, trackingSheet, 1, toAny(headers))
	writeRow(f, errorsSheet, 1, []any{"Record ID", "Seq", "Message"})

	row, errRow := 2, 2
	for _, e := range entries {
		writeRow(f, trackingSheet, row, trackingRow(e))
		row++
		for i, msg := range e.ErrorLog {
			writeRow(f, errorsSheet, errRow, []any{e.RecordID, i + 1, msg})
			errRow++
		}
	}

	_ = f.SetColWidth(trackingSheet, "A", "A", 12) // id
	_ = f.SetColWidth(trackingSheet, "B", "B", 26) // name
	_ = f.SetColWidth(trackingSheet, "C", "G", 12)
	_ = f.SetColWidth(trackingSheet, "H", "H", 60) // last error
	_ = f.SetColWidth(trackingSheet, "I", "K", 48) // paths
	_ = f.SetColWidth(trackingSheet, "L", "M", 24)
	_ = f.SetColWidth(errorsSheet, "C", "C", 100)
	_ = f.SetPanes(trackingSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(entries),
		"error_rows", errRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func trackingRow(e *entity.TrackingEntry) []any {
	var duration any = ""
	if e.DurationSeconds != nil {
		duration = *e.DurationSeconds
	}
	return []any{
		e.RecordID,
		e.RecordName,
		string(e.Status),
		e.RetryCount,
		e.Style,
		e.Mode,
		duration,
		truncate(strings.ReplaceAll(e.LastError(), "\n", " "), 500),
		e.OutputPath,
		e.OutputURL,
		e.SourceAssetURL,
		e.RunID,
		e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
