package cli

import (
	"fmt"
	"io"

	"github.com/scbrown/transcripts/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or modify configuration",
	Long: `View or change cct configuration stored in ~/.cct/config.toml.

With no arguments, shows all configuration settings.
With one argument, shows the value of that key.
With two arguments, sets the key to the given value. An empty value unsets it.

Settings:
  projects_dir      Directory holding session logs (default ~/.claude/projects)
  output_dir        Where cct all writes documents (default ./transcripts)
  bank_backend      Knowledge bank storage: "sqlite" or "json"
  bank_path         Path to the knowledge bank file
  page_turns        Maximum turns per page (default 5)
  page_budget       Weight budget per page (default 256KiB, or 64000 with tokens)
  page_ceiling      Split single turns heavier than this (default 4x budget)
  weigher           Page weight measure: "bytes" or "tokens"
  concurrency       Sessions processed at once (default 4)
  rate_limit        Analysis calls per second, 0 for unlimited
  analysis_timeout  Deadline per analysis call, e.g. "90s" (default 2m)
  model             Analyzer model name
  similarity        Threshold for merging patterns, 0 to 1 (default 0.85)
  default_format    Default output format: "table" or "json"
  api_base_url      Analyzer API base URL`,
	Example: `  cct config
  cct config page_turns
  cct config page_turns 10
  cct config bank_backend json
  cct config similarity ""`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			return showConfig(cmd.OutOrStdout(), cfg)
		case 1:
			return getConfig(cmd.OutOrStdout(), cfg, args[0])
		default:
			return setConfig(cmd.OutOrStdout(), cfg, args[0], args[1])
		}
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all configuration settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(cmd.OutOrStdout(), cfg)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getConfig(cmd.OutOrStdout(), cfg, args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConfig(cmd.OutOrStdout(), cfg, args[0], args[1])
	},
}

// configPath is the path to the config file, settable for testing.
var configPath = config.Path()

func init() {
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func showConfig(w io.Writer, c *config.Config) error {
	if jsonOutput {
		return writeJSON(w, c)
	}
	tbl := NewTable(w, "KEY", "VALUE")
	for _, key := range config.ValidKeys() {
		val, _ := c.Get(key)
		if val == "" {
			val = "(not set)"
		}
		tbl.Row(key, val)
	}
	return tbl.Flush()
}

func getConfig(w io.Writer, c *config.Config, key string) error {
	val, err := c.Get(key)
	if err != nil {
		return err
	}
	if val == "" {
		return nil
	}
	fmt.Fprintln(w, val)
	return nil
}

func setConfig(w io.Writer, c *config.Config, key, value string) error {
	if err := c.Set(key, value); err != nil {
		return err
	}
	if err := c.SaveTo(configPath); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", key, value)
	return nil
}
