package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "decency",
		Short:   "Decency content filter daemon",
		Long:    `Decency is a standalone anti-spam/anti-virus content filter that sits between an MTA and its second pass, scoring and disposing of mail according to a configured policy.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
