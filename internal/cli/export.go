package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/export"
	"github.com/joseph-ayodele/seedream-pipeline/internal/runstore"
)

// NewExportCommand writes an XLSX report of tracking entries.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		out      string
		statuses []string
		sinceStr string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tracking entries to XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)
			log := slog.Default()

			filter := export.Filter{}
			for _, raw := range statuses {
				st, ok := constants.ParseStatus(raw)
				if !ok {
					return NewExitError(ExitCommandError, fmt.Sprintf("unknown status %q", raw))
				}
				filter.Statuses = append(filter.Statuses, st)
			}
			if sinceStr != "" {
				parsed, err := time.Parse("2006-01-02", sinceStr)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --since date format, use YYYY-MM-DD", err)
				}
				filter.Since = &parsed
			}

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			db, tracking, err := openTracking(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			data, err := export.NewService(tracking, log).ExportTrackingXLSX(ctx, filter)
			if err != nil {
				return WrapExitError(ExitFailure, "export", err)
			}
			if err := runstore.WriteBytes(out, data); err != nil {
				return WrapExitError(ExitFailure, "write report", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"path": out, "bytes": len(data)})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, humanize.IBytes(uint64(len(data))))
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "tracking.xlsx", "output XLSX path")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses (repeatable)")
	cmd.Flags().StringVar(&sinceStr, "since", "", "only entries updated on or after YYYY-MM-DD")
	return cmd
}
