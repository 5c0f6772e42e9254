package constants

import (
	"strings"
)

// Style is an editor style preset.
type Style string

const (
	StylePhoto        Style = "Photo"
	StyleCinematic    Style = "Cinematic"
	StyleIllustration Style = "Illustration"
	StyleAnime        Style = "Anime"
	StyleOilPainting  Style = "Oil Painting"
	Style3D           Style = "3D"
)

// Mode is an editor edit mode.
type Mode string

const (
	ModeGeneral    Mode = "General"
	ModePortrait   Mode = "Portrait"
	ModeBackground Mode = "Background"
	ModeEnhance    Mode = "Enhance"
)

const (
	DefaultStyle = StylePhoto
	DefaultMode  = ModeGeneral
)

var allStyles = []Style{
	StylePhoto,
	StyleCinematic,
	StyleIllustration,
	StyleAnime,
	StyleOilPainting,
	Style3D,
}

var allModes = []Mode{
	ModeGeneral,
	ModePortrait,
	ModeBackground,
	ModeEnhance,
}

func StylesAsStringSlice() []string {
	result := make([]string, len(allStyles))
	for i, s := range allStyles {
		result[i] = string(s)
	}
	return result
}

func ModesAsStringSlice() []string {
	result := make([]string, len(allModes))
	for i, m := range allModes {
		result[i] = string(m)
	}
	return result
}

// CanonicalizeStyle maps user input onto a known preset. Unknown input is
// returned trimmed with ok=false so callers can still pass it through.
func CanonicalizeStyle(input string) (Style, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return DefaultStyle, true
	}

	normalized := strings.ToLower(trimmed)

	synonyms := map[string]Style{
		"photo":       StylePhoto,
		"photograph":  StylePhoto,
		"realistic":   StylePhoto,
		"film":        StyleCinematic,
		"movie":       StyleCinematic,
		"cartoon":     StyleIllustration,
		"drawing":     StyleIllustration,
		"manga":       StyleAnime,
		"oil":         StyleOilPainting,
		"painting":    StyleOilPainting,
		"oilpainting": StyleOilPainting,
		"3d render":   Style3D,
		"render":      Style3D,
	}
	if s, ok := synonyms[normalized]; ok {
		return s, true
	}

	for _, s := range allStyles {
		if normalized == strings.ToLower(string(s)) {
			return s, true
		}
	}
	return Style(trimmed), false
}

// CanonicalizeMode maps user input onto a known edit mode.
func CanonicalizeMode(input string) (Mode, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return DefaultMode, true
	}

	normalized := strings.ToLower(trimmed)
	for _, m := range allModes {
		if normalized == strings.ToLower(string(m)) {
			return m, true
		}
	}
	if normalized == "default" {
		return ModeGeneral, true
	}
	return Mode(trimmed), false
}
