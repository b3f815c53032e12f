package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "connectors",
		Short:         "Inbound connector runtime for deployed process definitions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(deployCmd(opts))
	rootCmd.AddCommand(undeployCmd(opts))
	rootCmd.AddCommand(definitionsCmd(opts))
	rootCmd.AddCommand(sealCmd(opts))
	return rootCmd
}
