package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tbloader/internal/deps"
	"tbloader/internal/notifications"
	"tbloader/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var testNotification bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, storage, reservation service and disk utilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := newStatusReport(cmd.OutOrStdout())

			results := preflight.RunAll(cmd.Context(), cfg)
			report.section("Preflight")
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				report.item(r.Name, kind, r.Detail)
			}

			statuses := preflight.CheckSystemDeps(cfg)
			report.section("Disk utilities")
			for _, dep := range statuses {
				kind, detail := dependencyState(dep)
				report.item(dep.Name, kind, detail)
			}

			failed := len(preflight.Failed(results)) + len(deps.MissingRequired(statuses))

			if testNotification {
				report.section("Notifications")
				switch {
				case strings.TrimSpace(cfg.Notifications.NtfyTopic) == "":
					report.item("ntfy", statusWarn, "notifications.ntfy_topic not set")
				default:
					if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
						failed++
						report.item("ntfy", statusError, err.Error())
					} else {
						report.item("ntfy", statusOK, "Test notification sent")
					}
				}
			}

			if failed > 0 {
				return errors.New("doctor found problems; see above")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&testNotification, "test-notification", false, "Send a test notification to the configured ntfy topic")
	return cmd
}

func dependencyState(dep deps.Status) (statusKind, string) {
	if dep.Available {
		if dep.Command != "" {
			return statusOK, fmt.Sprintf("Ready (command: %s)", dep.Command)
		}
		return statusOK, "Ready"
	}
	detail := strings.TrimSpace(dep.Detail)
	if detail == "" {
		detail = "not available"
	}
	if dep.Optional {
		return statusWarn, detail
	}
	return statusError, detail
}
