// Copyright (c) 2026, The fleetman Authors

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var setOptionCmd = &cobra.Command{
	Use:   "set-option <name> <value>",
	Run:   setOption,
	Args:  cobra.ExactArgs(2),
	Short: "Change a group wide option on every member",
	Long: "Change a group wide option on every member: memberWeight, exitStateAction, autoRejoinTries, " +
		"consistency, expelTimeout or tag:<name>.",
}

var setInstanceOptionCmd = &cobra.Command{
	Use:   "set-instance-option <instance> <name> <value>",
	Run:   setInstanceOption,
	Args:  cobra.ExactArgs(3),
	Short: "Change an option of a single member",
	Long:  "Change an option of a single member: label, memberWeight, exitStateAction, autoRejoinTries or replicationSources.",
}

// store args here
var patchFile string

var patchSpecCmd = &cobra.Command{
	Use:   "patch-spec [patch]",
	Run:   patchSpec,
	Args:  cobra.MaximumNArgs(1),
	Short: "Merge a json patch into the group spec stored for members joining later",
}

func init() {
	rootCmd.AddCommand(setOptionCmd, setInstanceOptionCmd, patchSpecCmd)

	patchSpecCmd.Flags().StringVarP(&patchFile, "file", "f", "", "file containing the patch. if '-', read from stdin")
}

func setOption(cmd *cobra.Command, args []string) {
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	if err := f.SetOption(context.Background(), args[0], typedScalar(instanceArg(args[1]))); err != nil {
		hl.Fatalf("set-option failed: %v", err)
	}
}

func setInstanceOption(cmd *cobra.Command, args []string) {
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	err := f.SetInstanceOption(context.Background(), instanceArg(args[0]), args[1], typedScalar(instanceArg(args[2])))
	if err != nil {
		hl.Fatalf("set-instance-option failed: %v", err)
	}
}

func patchSpec(cmd *cobra.Command, args []string) {
	if patchFile == "" && len(args) == 0 {
		hl.Fatalf("no patch provided as argument and no file provided (--file/-f option)")
	}
	if patchFile != "" && len(args) == 1 {
		hl.Fatalf("patch must be provided as direct argument or as file to read (--file/-f option), but not both")
	}

	var data []byte
	if len(args) == 1 {
		data = []byte(args[0])
	} else {
		var err error
		if patchFile == "-" {
			data, err = io.ReadAll(os.Stdin)
			if err != nil {
				hl.Fatalf("cannot read from stdin: %v", err)
			}
		} else {
			data, err = os.ReadFile(patchFile)
			if err != nil {
				hl.Fatalf("cannot read file: %v", err)
			}
		}
	}

	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()
	spec, err := f.PatchSpec(context.Background(), data)
	if err != nil {
		hl.Fatalf("failed to patch the group spec: %v", err)
	}
	printResult(spec)
}
