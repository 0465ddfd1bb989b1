package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mycloud/internal/config"
)

const secretConfigKey = "auth.jwt_secret"

type configEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type configPathEntry struct {
	Scope  string `json:"scope"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

type configSetResult struct {
	Key  string `json:"key"`
	Path string `json:"path"`
}

func newConfigCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change configuration",
	}

	cmd.AddCommand(
		newConfigListCmd(cfg, jsonOutput),
		newConfigGetCmd(cfg, jsonOutput),
		newConfigSetCmd(jsonOutput),
		newConfigPathCmd(jsonOutput),
	)
	return cmd
}

func newConfigListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show every effective config value",
		Args:  requireExactlyArgs(0, "list takes no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]configEntry, 0, len(config.AllowedKeys()))
			for _, key := range config.AllowedKeys() {
				value, err := cfg.Get(key)
				if err != nil {
					return err
				}
				if key == secretConfigKey && !showSecrets {
					value = maskSecret(value)
				}
				entries = append(entries, configEntry{Key: key, Value: value})
			}
			if *jsonOutput {
				return writeJSON(entries)
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\n", entry.Key, entry.Value)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secrets instead of masking them")
	return cmd
}

func newConfigGetCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one effective config value",
		Args:  requireExactlyArgs(1, "key is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !config.IsAllowedKey(key) {
				return fmt.Errorf("unknown key: %s (run `mycloud config list` for valid keys)", key)
			}
			value, err := cfg.Get(key)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(configEntry{Key: key, Value: value})
			}
			return writePlain("%s\n", value)
		},
	}
}

func newConfigSetCmd(jsonOutput *bool) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a value to the project or global config file",
		Args:  requireExactlyArgs(2, "key and value are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			path, err := configPath(global)
			if err != nil {
				return err
			}
			if err := config.SetKey(path, key, value); err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(configSetResult{Key: key, Path: path})
			}
			return writePlain("%s updated in %s\n", key, path)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write to the global config (~/.mycloud.toml)")
	return cmd
}

func newConfigPathCmd(jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show where config files are read from",
		Args:  requireExactlyArgs(0, "path takes no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []configPathEntry
			for _, global := range []bool{true, false} {
				path, err := configPath(global)
				if err != nil {
					return err
				}
				exists, err := fileExists(path)
				if err != nil {
					return err
				}
				scope := "project"
				if global {
					scope = "global"
				}
				entries = append(entries, configPathEntry{Scope: scope, Path: path, Exists: exists})
			}
			if *jsonOutput {
				return writeJSON(entries)
			}
			for _, entry := range entries {
				state := "missing"
				if entry.Exists {
					state = "present"
				}
				if err := writePlain("%-8s %s (%s)\n", entry.Scope, entry.Path, state); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func configPath(global bool) (string, error) {
	if global {
		return config.GlobalPath()
	}
	return config.ProjectPath()
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	return "(set)"
}
