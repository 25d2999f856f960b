package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tbloader/internal/daemonrun"
	"tbloader/internal/logging"
	"tbloader/internal/logs"
	"tbloader/internal/workflow"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var sessionID string
	var cli bool
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log, the CLI log or a session transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sessionID = strings.TrimSpace(sessionID)
			if sessionID != "" && cli {
				return fmt.Errorf("--session and --cli are mutually exclusive")
			}
			path := filepath.Join(cfg.Paths.LogDir, daemonrun.CurrentLogName)
			switch {
			case sessionID != "":
				path = workflow.TranscriptPath(cfg.Paths.LogDir, sessionID)
			case cli:
				path = filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			}

			chunk, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(chunk.Lines) == 0 && !follow {
				fmt.Fprintf(out, "No log entries in %s\n", path)
				return nil
			}
			for _, line := range chunk.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, chunk.Offset, logs.DefaultPollInterval, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Show the transcript of this session")
	cmd.Flags().BoolVar(&cli, "cli", false, "Show the CLI log instead of the daemon log")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}
