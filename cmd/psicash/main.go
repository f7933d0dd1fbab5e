package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd wires every subcommand to a fresh viper instance.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetDefault("config", "")

	// Environment variables support: PSICASH_CONFIG, PSICASH_HOSTNAME, ...
	v.SetEnvPrefix("PSICASH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "psicash",
		Short:         "Drive a PsiCash client datastore against a ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadConfig(v)
			if err != nil {
				return err
			}
			return doc.Logging.SetupLogging()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a config yaml")
	pf.String("scheme", "", "ledger scheme (http or https)")
	pf.String("hostname", "", "ledger hostname")
	pf.Int("port", 0, "ledger port")
	pf.String("store-driver", "", "datastore driver: memory, file, sqlite, postgres, redis")
	pf.String("store-path", "", "datastore path for the file and sqlite drivers")
	pf.String("log-level", "", "log level: error, warn, info, debug")
	pf.String("classes", "", "comma separated purchase classes refreshed by default")

	_ = v.BindPFlag("config", pf.Lookup("config"))
	_ = v.BindPFlag("scheme", pf.Lookup("scheme"))
	_ = v.BindPFlag("hostname", pf.Lookup("hostname"))
	_ = v.BindPFlag("port", pf.Lookup("port"))
	_ = v.BindPFlag("store_driver", pf.Lookup("store-driver"))
	_ = v.BindPFlag("store_path", pf.Lookup("store-path"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = v.BindPFlag("classes", pf.Lookup("classes"))

	root.AddCommand(
		newRefreshCmd(v),
		newPurchaseCmd(v),
		newStateCmd(v),
		newExpireCmd(v),
		newClearCmd(v),
		newMetadataCmd(v),
		newLedgerCmd(),
	)
	for _, extra := range extraCommands {
		root.AddCommand(extra(v))
	}
	return root
}

// extraCommands are registered by build-tagged files.
var extraCommands []func(v *viper.Viper) *cobra.Command

func main() {
	// a missing .env is fine
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
