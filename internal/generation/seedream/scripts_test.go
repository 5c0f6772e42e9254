package seedream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptsQuoteArguments(t *testing.T) {
	js := visibleJS(`//button[contains(., "Download")]`)
	assert.Contains(t, js, `"//button[contains(., \"Download\")]"`)

	js = setPromptJS("line one\nline 'two'")
	assert.Contains(t, js, `"line one\nline 'two'"`)

	js = chooseJS("Oil Painting")
	assert.Contains(t, js, `"Oil Painting"`)
}

func TestProbeLoginRequired(t *testing.T) {
	assert.True(t, probe{URL: "https://seedream.pro/login?next=/"}.loginRequired())
	assert.True(t, probe{URL: "https://seedream.pro/ai-photo-editor", SignIn: true}.loginRequired())
	assert.False(t, probe{URL: "https://seedream.pro/ai-photo-editor"}.loginRequired())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultEditorURL, cfg.EditorURL)
	assert.Equal(t, "state.json", cfg.StatePath)
	assert.Equal(t, "2m0s", cfg.GenerationTimeout.String())
}
