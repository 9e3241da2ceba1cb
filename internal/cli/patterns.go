package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/scbrown/transcripts/internal/bank"
	"github.com/scbrown/transcripts/internal/batch"
	"github.com/scbrown/transcripts/internal/extract"
	"github.com/scbrown/transcripts/internal/llm"
	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/patterns"
	"github.com/scbrown/transcripts/internal/transcript"
	"github.com/spf13/cobra"
)

// APIKeyEnv names the environment variable holding the analyzer credential.
const APIKeyEnv = "ANTHROPIC_API_KEY"

var (
	patternsMode      string
	patternsReview    bool
	patternsYes       bool
	patternsAPIKey    string
	patternsModel     string
	patternsRateLimit float64
	patternsTimeout   string
	patternsMinLength int
	patternsMinConf   string
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Discover recurring preferences in new sessions",
	Long: `Patterns finds sessions the knowledge bank has not processed (or whose
log changed since), extracts the user prompts, and asks the analyzer for
recurring preferences. The results are merged into a proposed bank change.

Nothing is written until the proposal is accepted. By default the change
is shown and accepted or discarded as a whole. --review also asks about
each new pattern so a bad one can be rejected without losing the rest of
the run; --yes accepts without asking. --min-confidence drops new patterns
seen in too few sessions before any of that. Rejected patterns stay out
of the bank and their sessions are not analyzed again. A session whose
analysis fails is reported and retried on the next run.

With --mode extract-only, prompts are collected and classified but not
analyzed, and the bank is left alone. The analyzer credential is read from
--api-key or the ANTHROPIC_API_KEY environment variable.`,
	Example: `  cct patterns --review
  cct patterns --yes --limit 20
  cct patterns --yes --min-confidence high
  cct patterns --mode extract-only --json
  cct patterns --concurrency 2 --rate-limit 0.5 --timeout 90s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := extract.ParseMode(patternsMode)
		if err != nil {
			return err
		}
		if _, err := bank.ParseConfidence(patternsMinConf); err != nil {
			return fmt.Errorf("invalid --min-confidence: %w", err)
		}
		logger, err := newLogger(cmd, "patterns")
		if err != nil {
			return err
		}
		infos, err := findSessions()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		backend, st, err := openBank(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		var analyzer extract.Analyzer
		if mode == extract.ModeAnalyze {
			client, err := newAnalyzer()
			if err != nil {
				return err
			}
			analyzer = client
		}
		timeout := cfg.ResolvedTimeout()
		if patternsTimeout != "" {
			d, err := parseDuration(patternsTimeout)
			if err != nil {
				return fmt.Errorf("invalid --timeout value %q: %w", patternsTimeout, err)
			}
			timeout = d
		}
		x := extract.New(analyzer, extract.Options{
			Mode:    mode,
			Timeout: timeout,
			Filter:  extract.Filter{MinLength: patternsMinLength},
		})

		limit := cfg.RateLimit
		if cmd.Flags().Changed("rate-limit") {
			limit = patternsRateLimit
		}
		p := patterns.New(st, x, patterns.Options{
			Parse:       transcript.Options{Policy: transcript.Lenient},
			Batch:       batch.Options{Concurrency: resolvedConcurrency(cmd), RateLimit: rate.Limit(limit)},
			ExtractOnly: mode == extract.ModeExtractOnly,
		}, logger)

		rep, err := p.Run(ctx, infos)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if mode == extract.ModeExtractOnly {
			return printPrompts(out, rep)
		}
		return settle(ctx, cmd, st, rep)
	},
}

func init() {
	addDiscoveryFlags(patternsCmd)
	patternsCmd.Flags().StringVar(&patternsMode, "mode", string(extract.ModeAnalyze), "analyze or extract-only")
	patternsCmd.Flags().BoolVar(&patternsReview, "review", false, "ask about each new pattern, then about the whole change")
	patternsCmd.Flags().BoolVarP(&patternsYes, "yes", "y", false, "accept the proposed change without asking")
	patternsCmd.Flags().StringVar(&patternsAPIKey, "api-key", "", "analyzer API key (default $"+APIKeyEnv+")")
	patternsCmd.Flags().StringVar(&patternsModel, "model", "", "analyzer model (default from config)")
	patternsCmd.Flags().Float64Var(&patternsRateLimit, "rate-limit", 0, "analysis calls per second, 0 for unlimited")
	patternsCmd.Flags().StringVar(&patternsTimeout, "timeout", "", "deadline per analysis call (default from config, 2m)")
	patternsCmd.Flags().StringVar(&patternsMinConf, "min-confidence", "low", "reject new patterns below this confidence: low, medium or high")
	patternsCmd.Flags().IntVar(&patternsMinLength, "min-length", 0, "skip prompts shorter than this many characters (default 5)")
	patternsCmd.Flags().IntVar(&concurrency, "concurrency", 0, "analysis calls in flight (default from config, 4)")
	patternsCmd.MarkFlagsMutuallyExclusive("review", "yes")
	rootCmd.AddCommand(patternsCmd)
}

func newAnalyzer() (*llm.Client, error) {
	key := patternsAPIKey
	if key == "" {
		key = os.Getenv(APIKeyEnv)
	}
	name := cfg.Model
	if patternsModel != "" {
		name = patternsModel
	}
	return llm.New(llm.Config{APIKey: key, BaseURL: cfg.APIBaseURL, Model: name})
}

func printPrompts(w io.Writer, rep *patterns.Report) error {
	if jsonOutput {
		return writeJSON(w, rep)
	}
	n := 0
	byType := make(map[string]int)
	byProject := make(map[string]int)
	for _, s := range rep.Sessions {
		if s.Error != "" {
			fmt.Fprintf(w, "! %s: %s\n", s.SessionID, s.Error)
			continue
		}
		for _, pr := range s.Prompts {
			fmt.Fprintf(w, "[%s] %s #%d: %s\n", pr.Type, s.Project, pr.Turn, truncate(oneLine(pr.Text), 100))
			byType[pr.Type]++
			byProject[s.Project]++
			n++
		}
	}
	fmt.Fprintf(w, "%d prompts from %d sessions (%d unchanged, %d failed)\n", n, rep.Analyzed, rep.Unchanged, rep.Failed)
	if n > 0 {
		fmt.Fprintf(w, "By type: %s\n", tally(byType))
		fmt.Fprintf(w, "By project: %s\n", tally(byProject))
	}
	return nil
}

// tally renders counts as "name n" pairs, largest first, ties by name.
func tally(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	parts := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			name = "unknown"
		}
		parts[i] = fmt.Sprintf("%s %d", name, counts[names[i]])
	}
	return strings.Join(parts, ", ")
}

// settle shows the proposal, drops the patterns the user rejects, and
// accepts or discards what is left as one change.
func settle(ctx context.Context, cmd *cobra.Command, st *bank.Store, rep *patterns.Report) error {
	out := cmd.OutOrStdout()
	p := rep.Proposal
	if jsonOutput && !patternsYes {
		// Machine-readable runs never prompt.
		if err := writeJSON(out, rep); err != nil {
			return err
		}
		st.Discard(p)
		return nil
	}

	if low := p.BelowConfidence(patternsMinConf); len(low) > 0 {
		if err := st.Reject(p, low); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Fprintf(out, "Skipped %d new patterns below %s confidence.\n", len(low), patternsMinConf)
		}
	}

	if !jsonOutput {
		printReport(out, rep)
	}
	if p.Empty() {
		if !jsonOutput {
			fmt.Fprintln(out, "No changes to the knowledge bank.")
		}
		st.Discard(p)
		return nil
	}

	accept := patternsYes
	if !accept {
		in := newPrompter(cmd.InOrStdin(), out)
		if patternsReview && len(p.Diff.Added) > 0 {
			rejected, err := reviewAdded(in, p.Diff.Added)
			if err != nil {
				return err
			}
			if len(rejected) > 0 {
				if err := st.Reject(p, rejected); err != nil {
					return err
				}
				fmt.Fprintf(out, "Rejected %d new patterns.\n", len(rejected))
				printReport(out, rep)
			}
		}
		ok, err := in.confirm("Accept these changes?")
		if err != nil {
			return err
		}
		accept = ok
	}
	if !accept {
		st.Discard(p)
		fmt.Fprintln(out, "Discarded; the knowledge bank was not changed.")
		return nil
	}
	if err := st.Accept(ctx, p); err != nil {
		if errors.Is(err, bank.ErrStaleProposal) {
			return fmt.Errorf("%w; run cct patterns again", err)
		}
		return err
	}
	if jsonOutput {
		return writeJSON(out, rep)
	}
	fmt.Fprintf(out, "Accepted proposal %s.\n", p.ID)
	return nil
}

// reviewAdded asks about each new entry and returns the ones to reject.
func reviewAdded(in *prompter, added []model.PatternEntry) ([]model.PatternEntry, error) {
	var rejected []model.PatternEntry
	for i, e := range added {
		q := fmt.Sprintf("(%d/%d) Keep [%s] %s?", i+1, len(added), e.Category, e.DisplayText)
		keep, err := in.keep(q)
		if err != nil {
			return nil, err
		}
		if !keep {
			rejected = append(rejected, e)
		}
	}
	return rejected, nil
}

func printReport(w io.Writer, rep *patterns.Report) {
	fmt.Fprintf(w, "Sessions: %d discovered, %d unchanged, %d analyzed, %d failed\n",
		rep.Discovered, rep.Unchanged, rep.Analyzed, rep.Failed)
	for _, err := range rep.Failures {
		fmt.Fprintf(w, "  ! %v\n", err)
	}
	d := rep.Proposal.Diff
	for _, e := range d.Added {
		fmt.Fprintf(w, "  + [%s] %s\n", e.Category, e.DisplayText)
	}
	for _, c := range d.Updated {
		fmt.Fprintf(w, "  ~ [%s] %s (%d -> %d sessions)\n",
			c.After.Category, c.After.DisplayText, c.Before.OccurrenceCount, c.After.OccurrenceCount)
	}
	for _, e := range d.Removed {
		fmt.Fprintf(w, "  - [%s] %s\n", e.Category, e.DisplayText)
	}
	if len(d.Sessions) > 0 {
		fmt.Fprintf(w, "%d new entries, %d updated, %d removed from %d sessions\n",
			len(d.Added), len(d.Updated), len(d.Removed), len(d.Sessions))
	}
}

// prompter reads answers line by line from one buffered reader so that
// consecutive questions see consecutive lines.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(r io.Reader, w io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(r), out: w}
}

func (p *prompter) ask(question, hint string) (string, error) {
	fmt.Fprintf(p.out, "%s %s ", question, hint)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	fmt.Fprintln(p.out)
	return strings.ToLower(strings.TrimSpace(line)), nil
}

// confirm is a yes/no question. Anything but y or yes, including end of
// input, is no.
func (p *prompter) confirm(question string) (bool, error) {
	ans, err := p.ask(question, "[y/N]")
	if err != nil {
		return false, err
	}
	return ans == "y" || ans == "yes", nil
}

// keep is a yes/no question that defaults to yes. Only n or no is no.
func (p *prompter) keep(question string) (bool, error) {
	ans, err := p.ask(question, "[Y/n]")
	if err != nil {
		return false, err
	}
	return ans != "n" && ans != "no", nil
}

// confirm asks a single yes/no question on r.
func confirm(r io.Reader, w io.Writer, question string) (bool, error) {
	return newPrompter(r, w).confirm(question)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
