package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Run aborted or a check failed
	ExitCommandError = 2 // Bad flags, config or prompt; nothing was attempted
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// writeSummary prints the run summary as indented JSON or a text panel.
func writeSummary(w io.Writer, format string, s entity.Summary) error {
	if format == "json" {
		return writeJSON(w, s)
	}
	rows := [][2]string{
		{"total fetched", fmt.Sprint(s.TotalFetched)},
		{"skipped (completed)", fmt.Sprint(s.SkippedCompleted)},
		{"skipped (failed)", fmt.Sprint(s.SkippedFailed)},
		{"skipped (no image)", fmt.Sprint(s.SkippedNoImage)},
		{"processed", fmt.Sprint(s.Processed)},
		{"succeeded", okStyle.Render(fmt.Sprint(s.Succeeded))},
		{"failed", failedValue(s.Failed)},
	}
	_, err := fmt.Fprintln(w, panelStyle.Render(titleStyle.Render("Run summary")+"\n"+table(rows)))
	return err
}

// writeStatusCounts prints per-status counts.
func writeStatusCounts(w io.Writer, format string, counts []entity.StatusCount) error {
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	if format == "json" {
		return writeJSON(w, map[string]any{"total": total, "statuses": counts})
	}
	rows := make([][2]string, 0, len(counts)+1)
	for _, c := range counts {
		value := fmt.Sprint(c.Count)
		if c.Status == "failed" {
			value = failedValue(c.Count)
		}
		rows = append(rows, [2]string{c.Status, value})
	}
	rows = append(rows, [2]string{"total", fmt.Sprint(total)})
	_, err := fmt.Fprintln(w, panelStyle.Render(titleStyle.Render("Tracking status")+"\n"+table(rows)))
	return err
}

func failedValue(n int) string {
	if n == 0 {
		return fmt.Sprint(n)
	}
	return errStyle.Render(fmt.Sprint(n))
}

func table(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r[0]))
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		label := r[0] + strings.Repeat(" ", width-lipgloss.Width(r[0]))
		lines[i] = mutedStyle.Render(label) + "  " + r[1]
	}
	return strings.Join(lines, "\n")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
