package pipeline

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

// DefaultPromptFile is read when no prompt file is configured.
const DefaultPromptFile = "MASTER_PROMPT.txt"

// LoadPrompt reads the master prompt, normalizes it to NFC and strips a
// leading BOM and surrounding whitespace. A missing or blank file is an error.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		path = DefaultPromptFile
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", common.NewAppError("INVALID_ARGUMENT", fmt.Sprintf("read prompt file %s", path), err)
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return "", common.NewAppError("INVALID_ARGUMENT", fmt.Sprintf("prompt file %s is empty", path), common.ErrInvalidInput)
	}
	return text, nil
}
