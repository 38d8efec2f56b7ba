// Copyright (c) 2026, The fleetman Authors

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/store"
)

// set in Makefile
var FleetmanVersion = "not defined during build"

func AddCommonFlags(cmd *cobra.Command, cfg *cluster.ClusterStoreConnInfo, logLevel *string) {
	cmd.PersistentFlags().StringVar(&cfg.ClusterName, "cluster-name", "", "cluster name")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.Endpoints, "store-endpoints",
		store.DefaultEtcdEndpoints[0],
		"a comma-delimited list of store endpoints (use https scheme for tls communication)")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.CAFile, "store-ca-file", "",
		"verify certificates of HTTPS-enabled store using this CA bundle")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.CertFile, "store-cert-file", "",
		"certificate file for client identification to the store")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.Key, "store-key", "",
		"private key file for client identification to the store")

	cmd.PersistentFlags().StringVar(logLevel, "log-level", "info",
		"error|warn|info|debug")
}

// check options
func CheckConfig(cfg *cluster.ClusterStoreConnInfo) error {
	if cfg.ClusterName == "" {
		return fmt.Errorf("cluster name required")
	}

	return nil
}

// SetFlagsFromEnv sets every flag not given on the command line from
// PREFIX_FLAG_NAME, if that is set.
func SetFlagsFromEnv(fs *pflag.FlagSet, prefix string) error {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if serr := fs.Set(f.Name, v.GetString(f.Name)); serr != nil {
			err = fmt.Errorf("invalid value for %s_%s: %v", strings.ToUpper(prefix),
				strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), serr)
		}
	})
	return err
}
