package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mycloud/internal/config"
	"mycloud/internal/format"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		jsonOutput   bool
		outputFormat string
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:           "mycloud",
		Short:         "mycloud is a multi-tenant file storage service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.Log)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return configureOutput(&jsonOutput, outputFormat)
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, or yaml")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, or error")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newMigrateCmd(cfg, &jsonOutput),
		newConfigCmd(cfg, &jsonOutput),
		newAdminCmd(cfg, &jsonOutput),
		newLoginCmd(cfg, &jsonOutput),
		newFilesCmd(cfg, &jsonOutput),
	)

	return cmd
}

// configureOutput selects the structured formatter. --output wins over --json;
// any structured format sets *structured so commands skip text rendering.
func configureOutput(structured *bool, name string) error {
	if name == "" && *structured {
		name = format.NameJSON
	}
	formatter, err := format.ForName(name)
	if err != nil {
		return err
	}
	if formatter == nil {
		*structured = false
		return nil
	}
	outputFormatter = formatter
	*structured = true
	return nil
}
