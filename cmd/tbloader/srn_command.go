package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"tbloader/internal/srn"
)

type serialBlockView struct {
	LoaderHexID string `json:"loader_hex_id"`
	Available   int    `json:"available"`
	Next        string `json:"next,omitempty"`
	Primary     string `json:"primary,omitempty"`
	Backup      string `json:"backup,omitempty"`
}

func newSerialBlockView(a srn.Allocator) serialBlockView {
	view := serialBlockView{LoaderHexID: a.LoaderHexID, Available: a.Available()}
	if a.HasNext() {
		view.Next = a.Format(a.Next)
	}
	if a.PrimaryBegin > 0 {
		view.Primary = blockRange(a, a.PrimaryBegin, a.PrimaryEnd)
	}
	if a.HasBackup() {
		view.Backup = blockRange(a, a.BackupBegin, a.BackupEnd)
	}
	return view
}

func blockRange(a srn.Allocator, begin, end int) string {
	return fmt.Sprintf("%s .. %s", a.Format(begin), a.Format(end-1))
}

func newSRNCommand(ctx *commandContext) *cobra.Command {
	srnCmd := &cobra.Command{
		Use:   "srn",
		Short: "Inspect and refill the serial number blocks of this loader",
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the serial numbers this loader can still assign",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			alloc, err := rt.workflow.Serials().Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			view := newSerialBlockView(alloc)
			if statusJSON {
				return writeJSON(cmd, view)
			}
			printSerialBlock(cmd.OutOrStdout(), view)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	reserveCmd := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve serial number blocks now, while a network is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			serials := rt.workflow.Serials()
			if err := serials.Prepare(cmd.Context()); err != nil {
				return fmt.Errorf("reserve serial numbers: %w", err)
			}
			alloc, err := serials.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			printSerialBlock(cmd.OutOrStdout(), newSerialBlockView(alloc))
			return nil
		},
	}

	srnCmd.AddCommand(statusCmd, reserveCmd)
	return srnCmd
}

func printSerialBlock(out io.Writer, view serialBlockView) {
	fmt.Fprint(out, renderFields([][2]string{
		{"Loader", view.LoaderHexID},
		{"Available", strconv.Itoa(view.Available)},
		{"Next serial", view.Next},
		{"Primary block", view.Primary},
		{"Backup block", view.Backup},
	}))
	if view.Available == 0 {
		fmt.Fprintln(out, "No serial numbers left; run `tbloader srn reserve` while online")
	}
}
