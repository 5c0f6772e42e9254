package entity

// Summary is the per-run counter set reported at the end of a batch.
type Summary struct {
	TotalFetched     int `json:"total_fetched"`
	SkippedCompleted int `json:"skipped_completed"`
	SkippedFailed    int `json:"skipped_failed"`
	SkippedNoImage   int `json:"skipped_no_image"`
	Processed        int `json:"processed"`
	Succeeded        int `json:"succeeded"`
	Failed           int `json:"failed"`
}

// Skipped is the number of fetched candidates that were not attempted.
func (s Summary) Skipped() int {
	return s.SkippedCompleted + s.SkippedFailed + s.SkippedNoImage
}

// StatusCount is one row of a per-status breakdown.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}
