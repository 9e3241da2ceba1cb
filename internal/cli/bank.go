package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/scbrown/transcripts/internal/analyze"
	"github.com/scbrown/transcripts/internal/bank"
	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/store"
	"github.com/spf13/cobra"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Inspect and manage the pattern knowledge bank",
	Long: `The knowledge bank holds the patterns accepted from cct patterns runs,
with the sessions each one was seen in. It lives at ~/.cct/bank.db
(SQLite) or ~/.cct/bank.json; see cct config bank_backend and bank_path.`,
}

var bankCategory string

var bankShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the patterns in the knowledge bank",
	Example: `  cct bank show
  cct bank show --category testing
  cct bank show --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBank(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			if bankCategory != "" {
				return writeJSON(cmd.OutOrStdout(), entriesOf(b, bankCategory))
			}
			return writeJSON(cmd.OutOrStdout(), b)
		}
		if b.EntryCount() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "The knowledge bank is empty. Run cct patterns to fill it.")
			return nil
		}
		tbl := NewTable(cmd.OutOrStdout(), "CATEGORY", "CONFIDENCE", "SESSIONS", "PATTERN")
		for _, cat := range b.OrderedCategories() {
			if bankCategory != "" && cat != bankCategory {
				continue
			}
			for _, e := range b.Categories[cat] {
				tbl.Row(cat, e.Confidence(), humanize.Comma(int64(e.OccurrenceCount)), truncate(e.DisplayText, 70))
			}
		}
		if err := tbl.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s patterns from %s sessions\n",
			humanize.Comma(int64(b.EntryCount())), humanize.Comma(int64(len(b.ProcessedSessions))))
		return nil
	},
}

var (
	exportFormat string
	exportOut    string
)

var bankExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render the knowledge bank as Markdown, CLAUDE.md, JSON, or YAML",
	Long: `Export renders the knowledge bank. markdown is the full document with
confidence badges and examples; claude-md is a compact list of the
high-confidence patterns suitable for a CLAUDE.md file; json and yaml are
structured dumps.`,
	Example: `  cct bank export
  cct bank export --format claude-md -o CLAUDE.md
  cct bank export --format yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := exportFormat
		if name == "" {
			name = string(bank.FormatMarkdown)
		}
		f, err := bank.ParseFormat(name)
		if err != nil {
			return err
		}
		b, err := loadBank(cmd.Context())
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			file, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOut, err)
			}
			defer file.Close()
			w = file
		}
		if err := bank.Export(w, b, f, time.Now()); err != nil {
			return err
		}
		if exportOut != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", exportOut)
		}
		return nil
	},
}

var resetForce bool

var bankResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the knowledge bank and start over",
	Long: `Reset deletes the persisted knowledge bank, including SQLite side
files. It is the only way past a bank that cannot be read, and it requires
--force.`,
	Example: `  cct bank reset --force`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			return fmt.Errorf("refusing to delete %s without --force", bankPath)
		}
		if err := store.Reset(bankPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", bankPath)
		return nil
	},
}

var searchTop int

var bankSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find patterns similar to the given text",
	Example: `  cct bank search "write tests first"
  cct bank search commit --top 10 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBank(cmd.Context())
		if err != nil {
			return err
		}
		top := searchTop
		if top <= 0 {
			top = analyze.DefaultTopN
		}
		hits := bank.Search(b, strings.Join(args, " "), top)
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), hits)
		}
		if len(hits) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No similar patterns.")
			return nil
		}
		tbl := NewTable(cmd.OutOrStdout(), "SCORE", "CATEGORY", "PATTERN")
		for _, h := range hits {
			tbl.Row(fmt.Sprintf("%.2f", h.Score), h.Entry.Category, truncate(h.Entry.DisplayText, 70))
		}
		return tbl.Flush()
	},
}

var rebuildYes bool

var bankRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-derive entries from recorded observations",
	Long: `Rebuild clusters every recorded observation again using the current
similarity setting and replaces the entries with the result. Use it after
changing cct config similarity. The change is shown and confirmed like a
cct patterns proposal.`,
	Example: `  cct config similarity 0.9
  cct bank rebuild --yes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backend, st, err := openBank(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		before := st.Bank()
		next := bank.Rebuild(before, bank.MergeOptions{Threshold: cfg.Similarity})
		d := bank.Compare(before, next)
		out := cmd.OutOrStdout()
		if len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0 {
			fmt.Fprintln(out, "Entries are already up to date.")
			return nil
		}
		fmt.Fprintf(out, "%d entries before, %d after (%d new, %d changed, %d gone)\n",
			before.EntryCount(), next.EntryCount(), len(d.Added), len(d.Updated), len(d.Removed))
		if !rebuildYes {
			ok, err := confirm(cmd.InOrStdin(), out, "Replace the entries?")
			if err != nil || !ok {
				return err
			}
		}
		return st.Replace(ctx, next)
	},
}

func init() {
	bankShowCmd.Flags().StringVar(&bankCategory, "category", "", "only this category")
	bankExportCmd.Flags().StringVar(&exportFormat, "format", "", "markdown, claude-md, json, or yaml (default markdown)")
	bankExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to this file instead of stdout")
	bankResetCmd.Flags().BoolVar(&resetForce, "force", false, "really delete the knowledge bank")
	bankSearchCmd.Flags().IntVar(&searchTop, "top", 0, "maximum results (default 5)")
	bankRebuildCmd.Flags().BoolVarP(&rebuildYes, "yes", "y", false, "replace without asking")

	bankCmd.AddCommand(bankShowCmd, bankExportCmd, bankResetCmd, bankSearchCmd, bankRebuildCmd)
	rootCmd.AddCommand(bankCmd)
}

// loadBank reads the bank once and closes the backend.
func loadBank(ctx context.Context) (*model.KnowledgeBank, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	backend, st, err := openBank(ctx)
	if err != nil {
		return nil, err
	}
	defer backend.Close()
	return st.Bank(), nil
}

func entriesOf(b *model.KnowledgeBank, category string) []model.PatternEntry {
	if e := b.Categories[category]; e != nil {
		return e
	}
	return []model.PatternEntry{}
}
