package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TrackingStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusFailed, StatusProcessing, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusProcessing, StatusPending, false},
		{TrackingStatus("bogus"), StatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, TrackingStatus("nope").IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("  FAILED ")
	assert.True(t, ok)
	assert.Equal(t, StatusFailed, s)

	_, ok = ParseStatus("queued")
	assert.False(t, ok)
}

func TestCanonicalizeStyle(t *testing.T) {
	s, ok := CanonicalizeStyle("manga")
	assert.True(t, ok)
	assert.Equal(t, StyleAnime, s)

	s, ok = CanonicalizeStyle("")
	assert.True(t, ok)
	assert.Equal(t, StylePhoto, s)

	s, ok = CanonicalizeStyle(" Watercolor ")
	assert.False(t, ok)
	assert.Equal(t, Style("Watercolor"), s)

	m, ok := CanonicalizeMode("portrait")
	assert.True(t, ok)
	assert.Equal(t, ModePortrait, m)
}

func TestExtForContentType(t *testing.T) {
	assert.Equal(t, "jpg", ExtForContentType("image/jpeg; charset=binary"))
	assert.Equal(t, "webp", ExtForContentType("image/webp"))
	assert.Equal(t, "png", ExtForContentType("application/octet-stream"))
}
