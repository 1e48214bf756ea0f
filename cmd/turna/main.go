package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "turna",
		Short:         "Operator console for the Turna scheduling backend",
		Version:       Version + " (" + BuildTime + ")",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("api-url", "", "backend base URL")
	flags.String("token", "", "backend bearer token")
	flags.Duration("timeout", 0, "backend request timeout")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.StringP("output", "o", "table", "output format (table, json, yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(uploadCmd())
	root.AddCommand(filesCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(tenantsCmd())
	root.AddCommand(accountsCmd())
	root.AddCommand(membershipsCmd())
	root.AddCommand(demandsCmd())

	return root
}
