// Command qavaultd serves the qavault API.
//
// Configuration comes from qavault.yaml and QV__ environment variables, for
// example:
//
//	QV__AUTH__SIGNING_KEY=... QV__AUTH__GOOGLE__CLIENT_ID=... qavaultd
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dpup/qavault"
	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/server"
	"github.com/dpup/qavault/storage/sqlitestore"
	"github.com/dpup/qavault/vault/sqlstore"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)
	cmd := &cobra.Command{
		Use:           "qavaultd",
		Short:         "Serve the qavault API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := qavault.LoadConfigFile(configPath); err != nil {
					return errors.WrapPrefix(err, "loading "+configPath, 0)
				}
			}
			if cmd.Flags().Changed("port") {
				if err := qavault.LoadConfigDefaults(map[string]interface{}{"server.port": port}); err != nil {
					return err
				}
			}
			return serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "additional config file to load")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on, overrides server.port")
	return cmd
}

func serve(ctx context.Context) error {
	if errs := qavault.ValidateConfig(); len(errs) > 0 {
		return errors.New(qavault.FormatValidationErrors(errs))
	}
	logger, err := logging.New(qavault.ConfigString("log.format"))
	if err != nil {
		return err
	}
	ctx = logging.With(ctx, logger)
	if w := qavault.ConfigWarnings(); w != "" {
		logging.Warn(ctx, w)
	}

	driver := qavault.ConfigString("database.driver")
	store, err := sqlstore.New(ctx, driver, qavault.ConfigString("database.url"))
	if err != nil {
		return err
	}
	defer store.Close()
	logging.Infow(ctx, "qavaultd: vault ready", "driver", driver)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithVault(store),
	}
	if path := qavault.ConfigString("blocklist.path"); path != "" {
		kv, err := sqlitestore.New(path)
		if err != nil {
			return err
		}
		defer kv.Close()
		opts = append(opts, server.WithBlocklist(server.NewBlocklist(kv)))
	}

	s, err := server.New(opts...)
	if err != nil {
		return err
	}
	return s.Start()
}
