// Copyright (c) 2026, The fleetman Authors

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	cmdcommon "fleetman.io/fleetman/cmd"
	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/cluster/commands"
	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/metrics"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/pool"
)

// Here we will store args
var cfg cluster.ClusterStoreConnInfo
var logLevel string

// global flags
var (
	adminUser       string
	adminPassword   string
	interactive     bool
	metricsTextfile string
)

var hl *fmlog.Logger
var fleetMetrics = metrics.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "fleetctl",
	Version: cmdcommon.FleetmanVersion,
	Short:   "fleetman command line client: administers MySQL group replication clusters and replica sets.",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		hl = fmlog.GetLoggerWithLevel(logLevel)

		if err := cmdcommon.CheckConfig(&cfg); err != nil {
			hl.Fatalf(err.Error())
		}
	},
	PersistentPostRun: func(c *cobra.Command, args []string) {
		if metricsTextfile == "" {
			return
		}
		if err := fleetMetrics.WriteTextfile(metricsTextfile); err != nil {
			hl.Errorf("failed to write metrics to %s: %v", metricsTextfile, err)
		}
	},
	// bare command does nothing
}

// Entry point
func Execute() {
	if err := cmdcommon.SetFlagsFromEnv(rootCmd.PersistentFlags(), "FLEETCTL"); err != nil {
		log.Fatalf("%v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Executed on package init
func init() {
	cmdcommon.AddCommonFlags(rootCmd, &cfg, &logLevel)

	rootCmd.PersistentFlags().StringVar(&adminUser, "user", "",
		"admin user to connect to the instances with; the one recorded at creation by default")
	rootCmd.PersistentFlags().StringVar(&adminPassword, "password", "", "password of the admin user")
	rootCmd.PersistentFlags().BoolVar(&interactive, "interactive", false, "operator is at the terminal")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "",
		"write operation metrics in prometheus text format to this file")
}

func commandConfig(cs *cluster.ClusterStore) commands.Config {
	return commands.Config{
		Store:       cs,
		Dialer:      mysql.NewSQLDialer(),
		Console:     fmlog.NewStdoutConsole(hl),
		Logger:      hl,
		Credentials: pool.Credentials{User: adminUser, Password: adminPassword},
		Interactive: interactive,
		Metrics:     fleetMetrics,
	}
}

// openFleet opens the cluster named on the command line or dies. Callers
// close both.
func openFleet() (*commands.Fleet, *cluster.ClusterStore) {
	cs, err := cluster.NewClusterStore(&cfg)
	if err != nil {
		hl.Fatalf("failed to create store: %v", err)
	}
	f, err := commands.Open(context.Background(), commandConfig(cs))
	if err != nil {
		cs.Close()
		hl.Fatalf("cannot open cluster: %v", err)
	}
	return f, cs
}

// printResult writes res as indented json.
func printResult(res interface{}) {
	if hl.Level() <= zapcore.DebugLevel {
		hl.Debugf("result: %s", spew.Sdump(res))
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		hl.Fatalf("cannot encode result: %v", err)
	}
	fmt.Println(string(out))
}

// parseOptions turns repeated --option name=value flags into options.
// Values starting with [ or { are collections.
func parseOptions(raw []string) option.Options {
	opts := make(option.Options, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			hl.Fatalf("invalid option '%s', expected name=value", kv)
		}
		v, err := option.FromFlag(value)
		if err != nil {
			hl.Fatalf("invalid option '%s': %v", name, err)
		}
		opts[name] = typedScalar(v)
	}
	return opts
}

// typedScalar gives true, false and integers their type; anything else
// stays a string.
func typedScalar(v option.Value) option.Value {
	s, ok := v.AsString()
	if !ok {
		return v
	}
	parsed, err := option.FromJSON([]byte(s))
	if err != nil {
		return v
	}
	switch parsed.Kind() {
	case option.Bool, option.Integer:
		return parsed
	}
	return v
}

// instanceArg decodes an instance given as host:port, URI or json map.
func instanceArg(arg string) option.Value {
	v, err := option.FromFlag(arg)
	if err != nil {
		hl.Fatalf("invalid instance '%s': %v", arg, err)
	}
	return v
}

func addOptionFlag(c *cobra.Command, opts *[]string) {
	c.Flags().StringArrayVarP(opts, "option", "o", nil, "command option as name=value, may be repeated")
}
