package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tbloader/internal/daemonctl"
	"tbloader/internal/daemonrun"
	"tbloader/internal/store"
	"tbloader/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the tbloader daemon",
	}
	daemonCmd.AddCommand(
		newDaemonRunCommand(ctx),
		newDaemonStartCommand(ctx),
		newDaemonStopCommand(ctx),
		newDaemonStatusCommand(ctx),
		newDaemonPauseCommand(ctx, true),
		newDaemonPauseCommand(ctx, false),
		newDaemonWatchCommand(ctx),
	)
	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.resolvedLogLevel(cfg),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Add source locations to log records")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}
			if ctx.logLevelFlag != nil {
				opts.LogLevel = strings.TrimSpace(*ctx.logLevelFlag)
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, opts, 10*time.Second)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(out, "Daemon already running")
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		},
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(ctx.configValue(), 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon (pid %d) did not exit in time and was killed\n", result.PID)
				return nil
			}
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, active sessions and recent history",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) && !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			report := newStatusReport(out)
			report.section("Daemon")
			state := statusOK
			detail := "Running (pid " + strconv.Itoa(status.PID) + ")"
			if status.Paused {
				state = statusWarn
				detail += ", automatic collection paused"
			}
			report.item("State", state, detail)
			report.item("Auto collect", statusInfo, yesNo(status.AutoCollect))
			report.item("Device monitor", statusInfo, yesNo(status.Monitoring))
			serialKind := statusOK
			if status.Workflow.SerialsAvailable == 0 {
				serialKind = statusWarn
			}
			report.item("Serials available", serialKind, strconv.Itoa(status.Workflow.SerialsAvailable))
			if status.Workflow.LastError != "" {
				report.item("Last error", statusError, status.Workflow.LastError)
			}

			report.section("Active sessions")
			printActiveSessions(out, status.Workflow.Active)

			recent, err := client.Sessions(cmd.Context(), store.SessionFilter{Limit: 5})
			if err != nil {
				return err
			}
			report.section("Recent sessions")
			if len(recent) == 0 {
				report.text("No sessions recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Started", "Serial", "Version", "Action", "Deployment", "Result", "Duration"},
				sessionRows(recent),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printActiveSessions(out io.Writer, active []workflow.ActiveSession) {
	if len(active) == 0 {
		fmt.Fprintln(out, "No sessions running")
		return
	}
	rows := make([][]string, 0, len(active))
	for _, a := range active {
		mode := "update"
		if a.StatsOnly {
			mode = "collect"
		}
		rows = append(rows, []string{
			a.Device,
			mode,
			orDash(a.Step),
			strconv.Itoa(a.Percent) + "%",
			time.Since(a.StartedAt).Round(time.Second).String(),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Device", "Mode", "Step", "Progress", "Elapsed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
}

func newDaemonPauseCommand(ctx *commandContext, pause bool) *cobra.Command {
	use, short, done := "resume", "Resume automatic collection", "Automatic collection resumed"
	if pause {
		use, short, done = "pause", "Pause automatic collection of inserted devices", "Automatic collection paused"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if pause {
				err = client.Pause(cmd.Context())
			} else {
				err = client.Resume(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

func newDaemonWatchCommand(ctx *commandContext) *cobra.Command {
	var sessionID string
	var poll bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow session progress from the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			show := func(evt workflow.ProgressEvent) bool {
				if sessionID != "" && evt.SessionID != sessionID {
					return true
				}
				fmt.Fprintln(out, formatProgressEvent(evt))
				return !(sessionID != "" && evt.Kind == workflow.EventFinished)
			}
			if !poll {
				return client.WatchProgress(cmd.Context(), 0, show)
			}
			var since uint64
			for {
				resp, err := client.Progress(cmd.Context(), since, true)
				if err != nil {
					return err
				}
				since = resp.Next
				for _, evt := range resp.Events {
					if !show(evt) {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Only follow this session and stop when it finishes")
	cmd.Flags().BoolVar(&poll, "poll", false, "Long-poll the HTTP API instead of using a websocket")
	return cmd
}

func formatProgressEvent(evt workflow.ProgressEvent) string {
	prefix := evt.Timestamp.Local().Format("15:04:05") + " " + evt.Device
	switch evt.Kind {
	case workflow.EventStarted:
		return fmt.Sprintf("%s started %s session %s", prefix, evt.Message, evt.SessionID)
	case workflow.EventStep:
		return fmt.Sprintf("%s [%3d%%] %s %s", prefix, evt.Percent, evt.Step, evt.Message)
	case workflow.EventFinished:
		result := "finished"
		if evt.Success != nil && !*evt.Success {
			result = "FAILED"
		}
		return fmt.Sprintf("%s %s (%s)", prefix, result, evt.Message)
	default:
		return fmt.Sprintf("%s %s", prefix, evt.Message)
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}
