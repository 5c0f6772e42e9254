package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/seedream-pipeline/internal/generation/seedream"
	"github.com/joseph-ayodele/seedream-pipeline/internal/runstore"
)

// NewLoginCommand opens a visible browser so an operator can sign in, then
// saves the session state used by headless runs.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to the editor and save the session",
		Long: `Open a visible browser on the editor page and wait until you have signed in.
The cookies are written to SEEDREAM_STATE_PATH for later headless runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt)
			defer stop()

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			st, err := seedream.InteractiveLogin(ctx, seedreamConfig(cfg), slog.Default())
			if err != nil {
				return WrapExitError(ExitFailure, "login", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"state_path": cfg.Seedream.StatePath,
					"cookies":    len(st.Cookies),
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s session saved to %s (%d cookies)\n",
				okStyle.Render("✓"), cfg.Seedream.StatePath, len(st.Cookies))
			return err
		},
	}
}

// NewVerifySessionCommand checks the saved session headlessly and captures a
// screenshot of what the editor shows.
func NewVerifySessionCommand(rootOpts *RootOptions) *cobra.Command {
	var screenshot string
	cmd := &cobra.Command{
		Use:   "verify-session",
		Short: "Check that the saved session is still signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt)
			defer stop()
			log := slog.Default()

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			if screenshot == "" {
				screenshot = filepath.Join(cfg.DebugDir, fmt.Sprintf("verify_session_%s.png", time.Now().UTC().Format("20060102T150405")))
			}

			sc := seedreamConfig(cfg)
			sc.Headless = true
			session, err := seedream.Open(ctx, sc, log)
			if err != nil {
				return WrapExitError(ExitFailure, "open browser", err)
			}
			defer func() { _ = session.Close() }()

			valid, checkErr := session.Valid(ctx)
			if shot, err := session.Page().Screenshot(ctx); err != nil {
				log.Warn("cli.verify.screenshot_failed", "error", err)
				screenshot = ""
			} else if err := runstore.WriteBytes(screenshot, shot); err != nil {
				log.Warn("cli.verify.screenshot_failed", "error", err)
				screenshot = ""
			}

			if rootOpts.Format == "json" {
				out := map[string]any{"valid": valid, "screenshot": screenshot}
				if checkErr != nil {
					out["error"] = checkErr.Error()
				}
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				status := okStyle.Render("valid")
				if !valid {
					status = errStyle.Render("invalid")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", status)
				if screenshot != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", mutedStyle.Render("screenshot: "+screenshot))
				}
			}

			if checkErr != nil {
				return WrapExitError(ExitFailure, "session check", checkErr)
			}
			if !valid {
				return NewExitError(ExitFailure, "session is not signed in; run `seedream-pipeline login`")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "where to save the screenshot (default under DEBUG_DIR)")
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
