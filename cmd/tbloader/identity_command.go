package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tbloader/internal/config"
	"tbloader/internal/devicefs"
	"tbloader/internal/identity"
)

type identityView struct {
	MountPoint     string   `json:"mount_point"`
	Version        string   `json:"version"`
	SerialNumber   string   `json:"serial_number"`
	NeedsNewSerial bool     `json:"needs_new_serial"`
	Project        string   `json:"project"`
	Deployment     string   `json:"deployment"`
	Packages       []string `json:"packages"`
	Community      string   `json:"community"`
	Firmware       string   `json:"firmware"`
	RecipientID    string   `json:"recipient_id,omitempty"`
	SynchDir       string   `json:"synch_dir,omitempty"`
	LastUpdated    string   `json:"last_updated"`
	HasFlashStats  bool     `json:"has_flash_stats"`
	Corrupted      bool     `json:"corrupted"`
}

func newIdentityCommand(ctx *commandContext) *cobra.Command {
	var label string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "identity <mount-point>",
		Short: "Show what a mounted Talking Book reports about itself",
		Long: `Read the serial number, deployment, packages, community and firmware
from a mounted Talking Book without changing it.

Examples:
  tbloader identity /media/TB-0123
  tbloader identity /media/TB-0123 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view, err := readIdentity(cfg, args[0], label)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, view)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderFields([][2]string{
				{"Mount point", view.MountPoint},
				{"Generation", view.Version},
				{"Serial number", serialLabel(view)},
				{"Project", view.Project},
				{"Deployment", view.Deployment},
				{"Packages", strings.Join(view.Packages, ", ")},
				{"Community", view.Community},
				{"Recipient", view.RecipientID},
				{"Firmware", view.Firmware},
				{"Last updated", view.LastUpdated},
				{"Flash statistics", yesNo(view.HasFlashStats)},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Volume label, when the OS reports one")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func readIdentity(cfg *config.Config, mountPoint, label string) (identityView, error) {
	info, err := os.Stat(mountPoint)
	if err != nil {
		return identityView{}, fmt.Errorf("open device: %w", err)
	}
	if !info.IsDir() {
		return identityView{}, fmt.Errorf("open device: %s is not a directory", mountPoint)
	}
	resolver := identity.Resolve(devicefs.NewLocal(mountPoint), identity.Options{
		SerialPrefix: cfg.Loader.SerialPrefix,
		Label:        label,
	})
	id := resolver.Identity()
	_, hasFlash := resolver.Flash()
	return identityView{
		MountPoint:     mountPoint,
		Version:        id.Version.String(),
		SerialNumber:   id.SerialNumber,
		NeedsNewSerial: id.NeedsNewSerial,
		Project:        id.Project,
		Deployment:     id.Deployment,
		Packages:       id.Packages,
		Community:      id.Community,
		Firmware:       id.Firmware,
		RecipientID:    id.RecipientID,
		SynchDir:       id.SynchDir,
		LastUpdated:    id.LastUpdated,
		HasFlashStats:  hasFlash,
		Corrupted:      id.Corrupted,
	}, nil
}

func serialLabel(v identityView) string {
	if v.NeedsNewSerial {
		return v.SerialNumber + " (new serial needed)"
	}
	return v.SerialNumber
}
