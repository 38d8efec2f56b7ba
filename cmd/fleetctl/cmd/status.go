// Copyright (c) 2026, The fleetman Authors

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"fleetman.io/fleetman/internal/cluster/commands"
	"fleetman.io/fleetman/internal/fmlog"
)

var statusOpts, rescanOpts []string

var statusCmd = &cobra.Command{
	Use:   "status",
	Run:   status,
	Short: "Show the health of every member",
	Long:  "Show the health of every member. The extended option (0..3) controls the amount of detail.",
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Run:   describe,
	Short: "Show the cluster structure as recorded in the store, without contacting the instances",
}

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Run:   rescan,
	Short: "Reconcile the metadata with the actual group membership",
	Long: "Reconcile the metadata with the actual group membership. addInstances and removeInstances take " +
		"a list of instances or 'auto'.",
}

func init() {
	rootCmd.AddCommand(statusCmd, describeCmd, rescanCmd)

	addOptionFlag(statusCmd, &statusOpts)
	addOptionFlag(rescanCmd, &rescanOpts)
}

func status(cmd *cobra.Command, args []string) {
	opts, err := commands.ParseStatusOptions(fmlog.NewStdoutConsole(hl), parseOptions(statusOpts))
	if err != nil {
		hl.Fatalf("%v", err)
	}
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	st, err := f.Status(context.Background(), opts)
	if err != nil {
		hl.Fatalf("status failed: %v", err)
	}
	printResult(st)
}

func describe(cmd *cobra.Command, args []string) {
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	d, err := f.Describe(context.Background())
	if err != nil {
		hl.Fatalf("describe failed: %v", err)
	}
	printResult(d)
}

func rescan(cmd *cobra.Command, args []string) {
	opts, err := commands.ParseRescanOptions(fmlog.NewStdoutConsole(hl), parseOptions(rescanOpts))
	if err != nil {
		hl.Fatalf("%v", err)
	}
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	res, err := f.Rescan(context.Background(), opts)
	if err != nil {
		hl.Fatalf("rescan failed: %v", err)
	}
	printResult(res)
}
