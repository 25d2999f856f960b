package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tbloader/internal/store"
	"tbloader/internal/updater"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var serial string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded update and collection sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context(), store.SessionFilter{
				Serial: strings.TrimSpace(serial),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if asJSON {
				if sessions == nil {
					sessions = []store.Session{}
				}
				return writeJSON(cmd, sessions)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Started", "Serial", "Version", "Action", "Deployment", "Result", "Duration"},
				sessionRows(sessions),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&serial, "serial", "", "Only sessions that saw this serial number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func sessionRows(sessions []store.Session) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		serial := s.SerialAfter
		if s.SerialBefore != "" && s.SerialBefore != s.SerialAfter {
			serial = s.SerialBefore + " -> " + orDash(s.SerialAfter)
		}
		rows = append(rows, []string{
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			orDash(serial),
			s.Version,
			s.Action,
			orDash(s.Deployment),
			sessionOutcome(s),
			updater.FormatElapsed(s.Duration()),
		})
	}
	return rows
}

func sessionOutcome(s store.Session) string {
	switch {
	case !s.Success:
		if s.ErrorMessage != "" {
			return "failed: " + s.ErrorMessage
		}
		return "failed"
	case s.HadCorruption:
		return "ok (reformat " + s.Reformat + ")"
	case !s.Verified && s.Action != "stats-only":
		return "ok (unverified)"
	default:
		return "ok"
	}
}
