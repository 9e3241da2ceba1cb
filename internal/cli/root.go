// Package cli defines the cobra command tree for the cct CLI.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/scbrown/transcripts/internal/bank"
	"github.com/scbrown/transcripts/internal/config"
	"github.com/scbrown/transcripts/internal/logging"
	"github.com/scbrown/transcripts/internal/store"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	verbose    bool
	logFormat  string
	bankPath   string
	bankKind   string

	// cfg is loaded before every command runs.
	cfg = &config.Config{}
)

// rootCmd is the top-level cct command.
var rootCmd = &cobra.Command{
	Use:   "cct",
	Short: "Page through coding-agent session logs and mine them for patterns",
	Long: `cct turns recorded coding-agent sessions into paginated, cross-linked
documents and learns recurring user preferences from them.

Sessions are read from ~/.claude/projects by default (configurable via
cct config projects_dir). Discovered patterns are kept in a knowledge bank at
~/.cct/bank.db and are only written after you accept a proposed change. All
output commands support --json for machine-readable output.`,
	Example: `  # Convert one session into index.json and page files
  cct convert ~/.claude/projects/-home-me-src-app/3f2a.jsonl

  # Convert every session and write a master index
  cct all --out ./transcripts

  # Discover patterns in new sessions, review, and accept
  cct patterns --review

  # Render the knowledge bank
  cct bank export --format markdown`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if cfg.DefaultFormat == "json" && !cmd.Flags().Changed("json") {
			jsonOutput = true
		}
		if bankKind == "" {
			bankKind = cfg.ResolvedBackend()
		}
		if bankPath == "" {
			c := *cfg
			c.BankBackend = bankKind
			bankPath = c.ResolvedBankPath()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug detail to stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&bankPath, "bank", "", "path to the knowledge bank (default from config)")
	rootCmd.PersistentFlags().StringVar(&bankKind, "backend", "", "knowledge bank backend: sqlite or json (default from config)")
}

// newLogger returns a logger writing to the command's stderr.
func newLogger(cmd *cobra.Command, component string) (*logging.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), component, logging.Options{
		Format:  logging.Format(logFormat),
		Verbose: verbose,
	})
}

// corruptHint wraps a store.ErrCorrupt error with the way out.
func corruptHint(err error) error {
	if errors.Is(err, store.ErrCorrupt) {
		return fmt.Errorf("%w\nrefusing to continue; inspect the file or run: cct bank reset --force", err)
	}
	return err
}

// openBackend opens the configured knowledge bank backend.
func openBackend() (store.Store, error) {
	s, err := store.Open(bankKind, bankPath)
	if err != nil {
		return nil, corruptHint(fmt.Errorf("open knowledge bank: %w", err))
	}
	return s, nil
}

// openBank opens the backend and loads the bank once. The caller closes the
// returned backend.
func openBank(ctx context.Context) (store.Store, *bank.Store, error) {
	backend, err := openBackend()
	if err != nil {
		return nil, nil, err
	}
	st, err := bank.Open(ctx, backend, bank.MergeOptions{Threshold: cfg.Similarity})
	if err != nil {
		backend.Close()
		return nil, nil, corruptHint(err)
	}
	return backend, st, nil
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDuration extends time.ParseDuration with a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		numStr := s[:len(s)-1]
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", numStr)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
