// Copyright (c) 2026, The fleetman Authors

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/cluster/commands"
)

// create-specific options
var createOpts commands.CreateOptions
var createType string

// negative means not given
var createMemberWeight, createAutoRejoinTries, createExpelTimeout int

var createCmd = &cobra.Command{
	Use:   "create <seed instance>",
	Run:   create,
	Args:  cobra.ExactArgs(1),
	Short: "Create a new cluster or replica set out of the seed instance",
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createType, "type", string(cluster.TypeCluster), "cluster|replicaset")
	createCmd.Flags().StringVar(&createOpts.AdminUser, "admin-user", "", "admin user, the same on all instances")
	createCmd.Flags().StringVar(&createOpts.AdminPassword, "admin-password", "", "admin user password")
	createCmd.Flags().StringVar(&createOpts.ReplUser, "repl-user", "", "replication user, fleetman_repl by default")
	createCmd.Flags().StringVar(&createOpts.ReplPassword, "repl-password", "", "replication user password")
	createCmd.Flags().StringVar(&createOpts.GroupName, "group-name", "", "group name (an UUID), generated if not given")
	createCmd.Flags().StringVar(&createOpts.ExitStateAction, "exit-state-action", "", "READ_ONLY|OFFLINE_MODE|ABORT_SERVER")
	createCmd.Flags().StringVar(&createOpts.ConsistencyLevel, "consistency", "", "group consistency level")
	createCmd.Flags().IntVar(&createMemberWeight, "member-weight", -1, "election weight of members, 0..100")
	createCmd.Flags().IntVar(&createAutoRejoinTries, "auto-rejoin-tries", -1, "times an expelled member tries to rejoin")
	createCmd.Flags().IntVar(&createExpelTimeout, "expel-timeout", -1, "seconds before a suspected member is expelled")
	createCmd.Flags().StringVar(&createOpts.Label, "label", "", "label of the seed instance")
	createCmd.Flags().BoolVar(&createOpts.Force, "force", false, "override the cluster data already in the store")
}

func create(cmd *cobra.Command, args []string) {
	createOpts.Type = cluster.TopologyType(createType)
	if createMemberWeight >= 0 {
		createOpts.MemberWeight = cluster.IntPtr(createMemberWeight)
	}
	if createAutoRejoinTries >= 0 {
		createOpts.AutoRejoinTries = cluster.IntPtr(createAutoRejoinTries)
	}
	if createExpelTimeout >= 0 {
		createOpts.ExpelTimeout = cluster.IntPtr(createExpelTimeout)
	}

	cs, err := cluster.NewClusterStore(&cfg)
	if err != nil {
		hl.Fatalf("failed to create store: %v", err)
	}
	defer cs.Close()

	f, err := commands.Create(context.Background(), commandConfig(cs), instanceArg(args[0]), createOpts)
	if err != nil {
		hl.Fatalf("create failed: %v", err)
	}
	defer f.Close()
	d, err := f.Describe(context.Background())
	if err != nil {
		hl.Fatalf("cannot describe the new cluster: %v", err)
	}
	printResult(d)
}
