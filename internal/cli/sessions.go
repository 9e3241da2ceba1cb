package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List discovered session logs",
	Long: `Sessions lists the session logs found under the projects directory,
most recently modified first. Sub-agent logs (agent-*.jsonl) are skipped
unless --include-agents is given.`,
	Example: `  cct sessions
  cct sessions --limit 10
  cct sessions --projects-dir ~/archive/claude --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := findSessions()
		if err != nil {
			return err
		}
		if jsonOutput {
			if infos == nil {
				return writeJSON(cmd.OutOrStdout(), []any{})
			}
			return writeJSON(cmd.OutOrStdout(), infos)
		}
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}
		tbl := NewTable(cmd.OutOrStdout(), "SESSION", "PROJECT", "MODIFIED", "SIZE")
		for _, s := range infos {
			tbl.Row(
				truncate(s.ID, 40),
				truncate(s.Project, 30),
				humanize.Time(s.ModTime),
				humanize.Bytes(uint64(s.Size)),
			)
		}
		return tbl.Flush()
	},
}

func init() {
	addDiscoveryFlags(sessionsCmd)
	rootCmd.AddCommand(sessionsCmd)
}
