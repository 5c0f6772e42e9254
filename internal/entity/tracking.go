package entity

import (
	"time"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
)

// TrackingEntry is the durable per-record progress row.
type TrackingEntry struct {
	RecordID        int64                    `json:"record_id"`
	Status          constants.TrackingStatus `json:"status"`
	RetryCount      int                      `json:"retry_count"`
	ErrorLog        []string                 `json:"error_log"`
	Style           string                   `json:"style,omitempty"`
	Mode            string                   `json:"mode,omitempty"`
	SourceAssetURL  string                   `json:"source_asset_url,omitempty"`
	RecordName      string                   `json:"record_name,omitempty"`
	OutputPath      string                   `json:"output_path,omitempty"`
	OutputURL       string                   `json:"output_url,omitempty"`
	RunID           string                   `json:"run_id,omitempty"`
	DurationSeconds *float64                 `json:"duration_seconds,omitempty"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// LastError returns the newest error log line, if any.
func (e *TrackingEntry) LastError() string {
	if e == nil || len(e.ErrorLog) == 0 {
		return ""
	}
	return e.ErrorLog[len(e.ErrorLog)-1]
}

// AsRecord rebuilds the record shape from the data kept on the entry, which
// lets retry mode run without the record source.
func (e *TrackingEntry) AsRecord() Record {
	return Record{
		ID:       e.RecordID,
		AssetURL: e.SourceAssetURL,
		Name:     e.RecordName,
	}
}

// ProcessingStart carries what is written when an attempt begins.
type ProcessingStart struct {
	RecordID       int64
	Style          string
	Mode           string
	SourceAssetURL string
	RecordName     string
	RunID          string
}

// OutputReference locates a persisted artifact.
type OutputReference struct {
	LocalPath string `json:"local_path,omitempty"`
	PublicURL string `json:"public_url,omitempty"`
}
