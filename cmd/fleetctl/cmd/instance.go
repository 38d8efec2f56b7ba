// Copyright (c) 2026, The fleetman Authors

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"fleetman.io/fleetman/internal/cluster/commands"
)

// keep args here
var addInstanceOpts, removeInstanceOpts, rejoinInstanceOpts, setPrimaryOpts, addReplicaOpts []string

var addInstanceCmd = &cobra.Command{
	Use:   "add-instance <instance>",
	Run:   addInstance,
	Args:  cobra.ExactArgs(1),
	Short: "Add an instance to the cluster or replica set as a secondary",
}

var removeInstanceCmd = &cobra.Command{
	Use:   "remove-instance <instance>",
	Run:   removeInstance,
	Args:  cobra.ExactArgs(1),
	Short: "Remove an instance. The primary can't be removed.",
}

var rejoinInstanceCmd = &cobra.Command{
	Use:   "rejoin-instance <instance>",
	Run:   rejoinInstance,
	Args:  cobra.ExactArgs(1),
	Short: "Bring back an instance which left the group or stopped replicating",
}

var setPrimaryCmd = &cobra.Command{
	Use:     "set-primary <instance>",
	Aliases: []string{"set-primary-instance"},
	Run:     setPrimary,
	Args:    cobra.ExactArgs(1),
	Short:   "Make the instance the primary",
}

var addReplicaCmd = &cobra.Command{
	Use:     "add-replica <instance>",
	Aliases: []string{"add-replica-instance"},
	Run:     addReplica,
	Args:    cobra.ExactArgs(1),
	Short:   "Attach a read replica to the cluster",
	Long: "Attach a read replica to the cluster. The replicationSources option is 'auto-primary' (default), " +
		"'auto-secondary' or a list of members, the first one preferred.",
}

func init() {
	rootCmd.AddCommand(addInstanceCmd, removeInstanceCmd, rejoinInstanceCmd, setPrimaryCmd, addReplicaCmd)

	addOptionFlag(addInstanceCmd, &addInstanceOpts)
	addOptionFlag(removeInstanceCmd, &removeInstanceOpts)
	addOptionFlag(rejoinInstanceCmd, &rejoinInstanceOpts)
	addOptionFlag(setPrimaryCmd, &setPrimaryOpts)
	addOptionFlag(addReplicaCmd, &addReplicaOpts)
}

func addInstance(cmd *cobra.Command, args []string) {
	opts, err := commands.ParseAddInstanceOptions(parseOptions(addInstanceOpts))
	if err != nil {
		hl.Fatalf("%v", err)
	}
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	res, err := f.AddInstance(context.Background(), instanceArg(args[0]), opts)
	if err != nil {
		hl.Fatalf("add-instance failed: %v", err)
	}
	printResult(res)
}

func removeInstance(cmd *cobra.Command, args []string) {
	opts, err := commands.ParseRemoveInstanceOptions(parseOptions(removeInstanceOpts))
	if err != nil {
		hl.Fatalf("%v", err)
	}
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	res, err := f.RemoveInstance(context.Background(), instanceArg(args[0]), opts)
	if err != nil {
		hl.Fatalf("remove-instance failed: %v", err)
	}
	printResult(res)
}

func rejoinInstance(cmd *cobra.Command, args []string) {
	opts, err := commands.ParseRejoinInstanceOptions(parseOptions(rejoinInstanceOpts))
	if err != nil {
		hl.Fatalf("%v", err)
	}
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	res, err := f.RejoinInstance(context.Background(), instanceArg(args[0]), opts)
	if err != nil {
		hl.Fatalf("rejoin-instance failed: %v", err)
	}
	printResult(res)
}

func setPrimary(cmd *cobra.Command, args []string) {
	opts, err := commands.ParseSetPrimaryInstanceOptions(parseOptions(setPrimaryOpts))
	if err != nil {
		hl.Fatalf("%v", err)
	}
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	res, err := f.SetPrimaryInstance(context.Background(), instanceArg(args[0]), opts)
	if err != nil {
		hl.Fatalf("set-primary failed: %v", err)
	}
	printResult(res)
}

func addReplica(cmd *cobra.Command, args []string) {
	opts, err := commands.ParseAddReplicaInstanceOptions(parseOptions(addReplicaOpts))
	if err != nil {
		hl.Fatalf("%v", err)
	}
	f, cs := openFleet()
	defer cs.Close()
	defer f.Close()

	res, err := f.AddReplicaInstance(context.Background(), instanceArg(args[0]), opts)
	if err != nil {
		hl.Fatalf("add-replica failed: %v", err)
	}
	printResult(res)
}
