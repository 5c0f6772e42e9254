package entity

import "strings"

// Record is one row of the record source (a football player).
type Record struct {
	ID          int64  `json:"api_player_id"`
	AssetURL    string `json:"image,omitempty"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// HasAsset reports whether the record carries a usable source asset reference.
func (r Record) HasAsset() bool {
	return strings.TrimSpace(r.AssetURL) != ""
}

// Label is the human-readable name used in logs.
func (r Record) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	if r.Name != "" {
		return r.Name
	}
	return "Unknown"
}
