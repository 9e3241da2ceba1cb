package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scbrown/transcripts/internal/ingest"
	"github.com/scbrown/transcripts/internal/paginate"
	"github.com/scbrown/transcripts/internal/source"
	"github.com/scbrown/transcripts/internal/transcript"
	"github.com/spf13/cobra"
)

// Pagination and parsing flags shared by convert and all.
var (
	pageTurns   int
	pageBudget  int
	pageCeiling int
	weigherName string
	sourceName  string
	outDir      string
)

var convertLenient bool

var convertCmd = &cobra.Command{
	Use:   "convert <session-file>",
	Short: "Convert one session log into paginated documents",
	Long: `Convert parses a session log (JSON array or JSONL, Claude Code, Codex or
flat schema), groups it into turns, and writes index.json plus one
page-NNN.json per page into the output directory.

Parsing is strict by default: the first malformed line aborts with its line
number. Use --lenient to skip malformed lines and record them as anomalies.`,
	Example: `  cct convert session.jsonl
  cct convert session.jsonl --out ./doc --turns 10
  cct convert session.jsonl --budget 20000 --weigher tokens
  cct convert rollout.jsonl --source codex --lenient --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := transcript.Strict
		if convertLenient {
			policy = transcript.Lenient
		}
		opts, err := ingestOptions(cmd, policy)
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, "convert")
		if err != nil {
			return err
		}

		out, err := ingest.ConvertFile(args[0], opts)
		if err != nil {
			return err
		}
		dir := outDir
		if dir == "" {
			dir = ingest.SessionDir(resolvedOutputDir(), out.Session.ID)
		}
		if err := ingest.Write(dir, out.Document); err != nil {
			return err
		}
		logger.WithSession(out.Session.ID).Anomalies(out.Document.Index.Anomalies)

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), out.Document.Index)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Converted %s: %d turns, %d pages -> %s\n",
			out.Session.ID, len(out.Session.Turns), len(out.Document.Pages), dir)
		if n := len(out.Document.Index.Anomalies); n > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d anomalies recorded in %s\n", n, filepath.Join(dir, ingest.IndexFile))
		}
		return nil
	},
}

func init() {
	addPageFlags(convertCmd)
	convertCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default <output_dir>/<session-id>)")
	convertCmd.Flags().BoolVar(&convertLenient, "lenient", false, "skip malformed lines instead of failing")
	rootCmd.AddCommand(convertCmd)
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&pageTurns, "turns", 0, "maximum turns per page (default from config, 5)")
	cmd.Flags().IntVar(&pageBudget, "budget", 0, "weight budget per page, 0 for none (default from config, 256KiB or 64000 tokens)")
	cmd.Flags().IntVar(&pageCeiling, "ceiling", 0, "split single turns heavier than this (default 4x budget)")
	cmd.Flags().StringVar(&weigherName, "weigher", "", "page weight measure: bytes or tokens")
	cmd.Flags().StringVar(&sourceName, "source", "", "force a log schema: "+strings.Join(source.Names(), ", "))
}

// ingestOptions merges page flags over the config file.
func ingestOptions(cmd *cobra.Command, policy transcript.Policy) (ingest.Options, error) {
	name := cfg.ResolvedWeigher()
	if weigherName != "" {
		name = weigherName
	}
	p := paginate.Options{
		MaxTurns:    cfg.ResolvedPageTurns(),
		Budget:      cfg.ResolvedPageBudget(name),
		HardCeiling: cfg.PageCeiling,
	}
	if cmd.Flags().Changed("turns") {
		p.MaxTurns = pageTurns
	}
	if cmd.Flags().Changed("budget") {
		p.Budget = pageBudget
	}
	if cmd.Flags().Changed("ceiling") {
		p.HardCeiling = pageCeiling
	}
	w, err := paginate.WeigherByName(name)
	if err != nil {
		return ingest.Options{}, err
	}
	p.Weigher = w

	if sourceName != "" && source.Get(sourceName) == nil {
		return ingest.Options{}, fmt.Errorf("unknown source %q (valid: %s)", sourceName, strings.Join(source.Names(), ", "))
	}
	return ingest.Options{
		Parse:    transcript.Options{Policy: policy, Source: sourceName},
		Paginate: p,
	}, nil
}

// resolvedOutputDir returns output_dir or ./transcripts.
func resolvedOutputDir() string {
	if cfg.OutputDir != "" {
		return cfg.OutputDir
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "transcripts")
	}
	return "transcripts"
}
