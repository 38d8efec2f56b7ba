package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdcommon "fleetman.io/fleetman/cmd"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// no cluster needed
	PersistentPreRun: func(c *cobra.Command, args []string) {},
	Run: func(c *cobra.Command, args []string) {
		fmt.Printf("fleetctl %s\n", cmdcommon.FleetmanVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
