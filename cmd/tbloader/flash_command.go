package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tbloader/internal/flashstats"
)

func newFlashCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "flash <file-or-mount-point>",
		Short: "Decode a first generation flash statistics blob",
		Long: `Decode flashData.bin from a file, or from the statistics directory of a
mounted first generation Talking Book, and print its summary.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := locateFlashStats(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open flash statistics: %w", err)
			}
			defer f.Close()
			stats, err := flashstats.Decode(f)
			if err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			if !stats.Present() {
				fmt.Fprintf(out, "%s holds no statistics\n", path)
				return nil
			}
			fmt.Fprint(out, stats.Summary())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the decoded record as JSON")
	return cmd
}

func locateFlashStats(target string) (string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return target, nil
	}
	for _, p := range flashstats.Paths {
		candidate := filepath.Join(target, filepath.FromSlash(p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.New("no " + flashstats.FileName + " under " + target)
}
