package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tbloader/internal/daemon"
	"tbloader/internal/updater"
)

type sessionFlags struct {
	device           string
	project          string
	deployment       string
	community        string
	packages         []string
	refreshFirmware  bool
	testDeployment   bool
	deploymentNumber int
	recipientID      string
	viaDaemon        bool
	asJSON           bool
}

func (f *sessionFlags) request(mountPoint string, statsOnly bool) daemon.SessionStartRequest {
	return daemon.SessionStartRequest{
		MountPoint:       mountPoint,
		DevicePath:       f.device,
		Project:          f.project,
		Deployment:       f.deployment,
		Community:        f.community,
		Packages:         f.packages,
		StatsOnly:        statsOnly,
		RefreshFirmware:  f.refreshFirmware,
		TestDeployment:   f.testDeployment,
		DeploymentNumber: f.deploymentNumber,
		RecipientID:      f.recipientID,
	}
}

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "update <mount-point>",
		Short: "Collect statistics from a Talking Book and install a deployment",
		Long: `Gather the device's statistics and recordings, then install the named
deployment for the chosen community and packages.

Examples:
  tbloader update /media/TB --project UNICEF-2 --deployment UNICEF-2-2026-1 \
      --community VILLAGE-A --package pkg-en
  tbloader update /media/TB --project UNICEF-2 --deployment UNICEF-2-2026-1 --daemon`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(flags.project) == "" || strings.TrimSpace(flags.deployment) == "" {
				return errors.New("--project and --deployment are required")
			}
			return runSession(cmd, ctx, flags.request(args[0], false), flags)
		},
	}
	bindSessionFlags(cmd, flags, true)
	return cmd
}

func newCollectCommand(ctx *commandContext) *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "collect <mount-point>",
		Short: "Collect statistics from a Talking Book without changing its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, ctx, flags.request(args[0], true), flags)
		},
	}
	bindSessionFlags(cmd, flags, false)
	return cmd
}

func bindSessionFlags(cmd *cobra.Command, flags *sessionFlags, update bool) {
	cmd.Flags().StringVar(&flags.device, "device", "", "Block device of the mount, enables disk checks (e.g. /dev/sdb1)")
	cmd.Flags().BoolVar(&flags.viaDaemon, "daemon", false, "Hand the session to the running daemon instead of running it here")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Output the result as JSON")
	if !update {
		return
	}
	cmd.Flags().StringVarP(&flags.project, "project", "p", "", "Project name")
	cmd.Flags().StringVarP(&flags.deployment, "deployment", "d", "", "Deployment to install")
	cmd.Flags().StringVar(&flags.community, "community", "", "Community directory to install")
	cmd.Flags().StringSliceVar(&flags.packages, "package", nil, "Package to install (repeatable, defaults to the deployment's first)")
	cmd.Flags().BoolVar(&flags.refreshFirmware, "refresh-firmware", false, "Reinstall firmware even when it is current")
	cmd.Flags().BoolVar(&flags.testDeployment, "test", false, "Mark the deployment as a test deployment")
	cmd.Flags().IntVar(&flags.deploymentNumber, "deployment-number", 0, "Deployment number recorded on the device")
	cmd.Flags().StringVar(&flags.recipientID, "recipient", "", "Recipient id, when the community has none")
}

func runSession(cmd *cobra.Command, ctx *commandContext, body daemon.SessionStartRequest, flags *sessionFlags) error {
	out := cmd.OutOrStdout()
	if flags.viaDaemon {
		client, err := ctx.client()
		if err != nil {
			return err
		}
		if err := client.StartSession(cmd.Context(), body); err != nil {
			return err
		}
		fmt.Fprintln(out, "Session handed to the daemon; follow it with `tbloader daemon watch`")
		return nil
	}

	rt, err := ctx.openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	req := body.Request()
	var renderer *progressRenderer
	if !flags.asJSON {
		renderer = newProgressRenderer(out)
		req.Progress = renderer
	}
	res, err := rt.workflow.Run(cmd.Context(), req)
	if renderer != nil {
		renderer.Finish()
	}
	if err != nil {
		return err
	}
	if flags.asJSON {
		if err := writeJSON(cmd, newSessionView(res)); err != nil {
			return err
		}
	} else {
		printSessionResult(out, res)
	}
	if !res.Success {
		if res.Err != nil {
			return fmt.Errorf("session %s failed: %w", res.SessionID, res.Err)
		}
		return fmt.Errorf("session %s failed", res.SessionID)
	}
	return nil
}

type stepView struct {
	Step       string `json:"step"`
	Files      int    `json:"files"`
	Bytes      int64  `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type sessionView struct {
	SessionID     string     `json:"session_id"`
	Version       string     `json:"version"`
	Action        string     `json:"action"`
	Success       bool       `json:"success"`
	Verified      bool       `json:"verified"`
	GotStatistics bool       `json:"got_statistics"`
	HadCorruption bool       `json:"had_corruption"`
	Reformat      string     `json:"reformat"`
	SerialBefore  string     `json:"serial_before,omitempty"`
	SerialAfter   string     `json:"serial_after,omitempty"`
	Deployment    string     `json:"deployment,omitempty"`
	ZipPath       string     `json:"zip_path,omitempty"`
	DurationMS    int64      `json:"duration_ms"`
	Error         string     `json:"error,omitempty"`
	Steps         []stepView `json:"steps"`
}

func newSessionView(res updater.Result) sessionView {
	view := sessionView{
		SessionID:     res.SessionID,
		Version:       res.Version.String(),
		Action:        res.Action,
		Success:       res.Success,
		Verified:      res.Verified,
		GotStatistics: res.GotStatistics,
		HadCorruption: res.HadCorruption,
		Reformat:      res.Reformat.String(),
		SerialBefore:  res.Previous.SerialNumber,
		SerialAfter:   res.Next.SerialNumber,
		Deployment:    res.Next.Deployment,
		ZipPath:       res.ZipPath,
		DurationMS:    res.Duration.Milliseconds(),
		Steps:         make([]stepView, 0, len(res.Steps)),
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	for _, s := range res.Steps {
		sv := stepView{Step: string(s.Step), Files: s.Files, Bytes: s.Bytes, DurationMS: s.Duration.Milliseconds()}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		view.Steps = append(view.Steps, sv)
	}
	return view
}

func printSessionResult(out io.Writer, res updater.Result) {
	rows := make([][]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		status := "ok"
		if s.Err != nil {
			status = s.Err.Error()
		}
		rows = append(rows, []string{string(s.Step), s.Summary(), status})
	}
	if len(rows) > 0 {
		fmt.Fprint(out, renderTable([]string{"Step", "Summary", "Status"}, rows, nil))
	}

	outcome := "succeeded"
	if !res.Success {
		outcome = "FAILED"
	}
	fmt.Fprintf(out, "Session %s %s (%s, %s)\n", res.SessionID, outcome, res.Action, updater.FormatElapsed(res.Duration))
	if res.Previous.SerialNumber != "" || res.Next.SerialNumber != "" {
		fmt.Fprintf(out, "Serial number: %s -> %s\n", orDash(res.Previous.SerialNumber), orDash(res.Next.SerialNumber))
	}
	if res.HadCorruption {
		fmt.Fprintf(out, "Disk corruption found; reformat: %s\n", res.Reformat)
	}
	if res.ZipPath != "" {
		fmt.Fprintf(out, "Collected data: %s\n", res.ZipPath)
	}
	if !res.GotStatistics {
		fmt.Fprintln(out, "No statistics were collected from this device")
	}
}

var _ updater.ProgressSink = (*progressRenderer)(nil)
