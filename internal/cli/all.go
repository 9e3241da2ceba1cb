package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/scbrown/transcripts/internal/batch"
	"github.com/scbrown/transcripts/internal/ingest"
	"github.com/scbrown/transcripts/internal/sessions"
	"github.com/scbrown/transcripts/internal/transcript"
	"github.com/spf13/cobra"
)

// Discovery flags shared by all, sessions and patterns.
var (
	projectsDir   string
	includeAgents bool
	sessionLimit  int
	concurrency   int
)

var allStrict bool

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Convert every discovered session",
	Long: `All finds every session log under the projects directory and converts
each one into <out>/<session-id>/ as cct convert does, then writes
<out>/sessions.json, a master index across sessions.

Sessions are converted concurrently. A session that fails to convert is
logged and listed in sessions.json with its error; the rest still convert.
Parsing is lenient by default.`,
	Example: `  cct all
  cct all --out ./transcripts --limit 20
  cct all --projects-dir ~/archive/claude --include-agents
  cct all --strict --concurrency 8`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := transcript.Lenient
		if allStrict {
			policy = transcript.Strict
		}
		opts, err := ingestOptions(cmd, policy)
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, "all")
		if err != nil {
			return err
		}
		infos, err := findSessions()
		if err != nil {
			return err
		}

		dir := outDir
		if dir == "" {
			dir = resolvedOutputDir()
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		rep, err := ingest.All(ctx, infos, dir, opts, batch.Options{Concurrency: resolvedConcurrency(cmd)}, logger)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), rep.Master)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Converted %d of %d sessions into %s", rep.Converted, len(infos), dir)
		if rep.Failed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), " (%d failed)", rep.Failed)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "Master index: %s\n", filepath.Join(dir, ingest.SessionsFile))
		return nil
	},
}

func init() {
	addPageFlags(allCmd)
	addDiscoveryFlags(allCmd)
	allCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config, ./transcripts)")
	allCmd.Flags().BoolVar(&allStrict, "strict", false, "fail a session at its first malformed line")
	allCmd.Flags().IntVar(&concurrency, "concurrency", 0, "sessions processed at once (default from config, 4)")
	rootCmd.AddCommand(allCmd)
}

func addDiscoveryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&projectsDir, "projects-dir", "", "directory holding session logs (default ~/.claude/projects)")
	cmd.Flags().BoolVar(&includeAgents, "include-agents", false, "include agent-*.jsonl sub-agent logs")
	cmd.Flags().IntVar(&sessionLimit, "limit", 0, "only the N most recently modified sessions")
}

// findSessions discovers session files using the discovery flags.
func findSessions() ([]sessions.Info, error) {
	root := projectsDir
	if root == "" {
		root = cfg.ResolvedProjectsDir()
	}
	infos, err := sessions.Find(root, sessions.Options{IncludeAgents: includeAgents, Limit: sessionLimit})
	if err != nil {
		return nil, fmt.Errorf("find sessions in %s: %w", root, err)
	}
	return infos, nil
}

func resolvedConcurrency(cmd *cobra.Command) int {
	if cmd.Flags().Changed("concurrency") && concurrency > 0 {
		return concurrency
	}
	return cfg.ResolvedConcurrency()
}
