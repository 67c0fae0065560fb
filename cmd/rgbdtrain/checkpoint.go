package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"rgbdtrain/pkg/checkpoint"
	"rgbdtrain/pkg/ui"
)

// checkpointCmd groups checkpoint inspection commands
var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"ckpt"},
	Short:   "Inspect saved checkpoints",
}

var listCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "List checkpoints in a directory, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := checkpoint.List(args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			ui.PrintWarning("No checkpoints in", args[0])
			return nil
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			fmt.Fprintf(out, "%-48s %10d  %s\n", e.Name, e.Size, e.ModTime.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the metadata of a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ckpt, err := checkpoint.Load(args[0])
		if err != nil {
			return err
		}
		summary := ckpt.Summary()
		keys := make([]string, 0, len(summary))
		for k := range summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		ui.PrintHighlight(args[0])
		for _, k := range keys {
			ui.PrintInfo(k, fmt.Sprintf("%v", summary[k]))
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file>...",
	Short: "Verify the integrity digest of checkpoints",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			// Load verifies the digest
			if _, err := checkpoint.Load(path); err != nil {
				ui.PrintError(path, err)
				failed++
				continue
			}
			ui.PrintSuccess(path + ": ok")
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d checkpoint(s) failed verification", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)
	checkpointCmd.AddCommand(verifyCmd)
}
