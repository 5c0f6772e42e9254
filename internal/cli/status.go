package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

// NewStatusCommand reports tracking counts, or one entry in detail.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracking counts per status",
		Long: `Show how many players are pending, processing, completed and failed.
With --id, print one tracking entry including its full error log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)
			log := slog.Default()

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			db, tracking, err := openTracking(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.HealthCheck(ctx, time.Second); err != nil {
				return WrapExitError(ExitFailure, "tracking store health", err)
			}

			if id != 0 {
				entry, err := tracking.Get(ctx, id)
				if errors.Is(err, common.ErrNotFound) {
					return WrapExitError(ExitFailure, fmt.Sprintf("no tracking entry for %d", id), err)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "load entry", err)
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), entry)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d %s", entry.RecordID, entry.RecordName)))
				rows := [][2]string{
					{"status", string(entry.Status)},
					{"retry count", fmt.Sprint(entry.RetryCount)},
					{"style / mode", entry.Style + " / " + entry.Mode},
					{"output", entry.OutputPath},
					{"url", entry.OutputURL},
					{"updated", entry.UpdatedAt.UTC().Format(time.RFC3339)},
				}
				fmt.Fprintln(w, table(rows))
				for i, msg := range entry.ErrorLog {
					fmt.Fprintf(w, "%s %s\n", mutedStyle.Render(fmt.Sprintf("#%d", i+1)), msg)
				}
				return nil
			}

			counts, err := tracking.CountByStatus(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "count entries", err)
			}
			return writeStatusCounts(cmd.OutOrStdout(), rootOpts.Format, counts)
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "show a single player's tracking entry")
	return cmd
}
