package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busybox42/decency/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

func init() {
	configCmd.AddCommand(&cobra.Command{
		Use:   "generate [path]",
		Short: "Write a default configuration file",
		RunE:  generateConfig,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		RunE:  validateConfigCmd,
	})
}

func generateConfig(cmd *cobra.Command, args []string) error {
	outputPath := "decency.conf"
	if len(args) > 0 {
		outputPath = args[0]
	}
	if err := config.CreateDefaultConfig(outputPath); err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	fmt.Printf("default configuration written to %s\n", outputPath)
	return nil
}

func validateConfigCmd(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) > 0 {
		path = args[0]
	}
	if path != "" {
		if _, err := config.FindConfigFile(path); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	result := cfg.Validate()
	if result.Valid {
		fmt.Println("configuration is valid")
	} else {
		fmt.Printf("configuration has %d error(s):\n", len(result.Errors))
		for i, e := range result.Errors {
			fmt.Printf("  %d. %s\n", i+1, e.Error())
		}
	}
	for i, w := range result.Warnings {
		fmt.Printf("warning %d: %s\n", i+1, w.Error())
	}
	if !result.Valid {
		return fmt.Errorf("configuration validation failed with %d errors", len(result.Errors))
	}
	return nil
}
