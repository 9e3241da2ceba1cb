package transcript

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/scbrown/transcripts/internal/cmdparse"
	"github.com/scbrown/transcripts/internal/model"
)

// commitLine matches the summary git prints after a commit, e.g.
// "[main abc1234] fix bug" or "[main (root-commit) abc1234] init".
var commitLine = regexp.MustCompile(`(?m)^\s*\[([^\[\]\n]+?)(?: \(root-commit\))? ([0-9a-f]{7,40})\] ?(.*)$`)

// shellTools are tool names that execute shell commands.
var shellTools = map[string]bool{
	"bash":              true,
	"shell":             true,
	"sh":                true,
	"zsh":               true,
	"exec_command":      true,
	"local_shell":       true,
	"run_shell_command": true,
	"terminal":          true,
	"powershell":        true,
	"container.exec":    true,
}

// IsShellTool reports whether a tool name denotes shell execution.
func IsShellTool(name string) bool {
	return shellTools[strings.ToLower(name)]
}

// ExtractCommits returns the commits reported in a completed shell
// invocation's output. A commit line without a message falls back to the
// -m value of the git commit in the invocation's command.
func ExtractCommits(inv *model.ToolInvocation) []model.CommitRef {
	if inv == nil || inv.Status != model.StatusCompleted || !IsShellTool(inv.Name) {
		return nil
	}
	matches := commitLine.FindAllStringSubmatch(inv.Output, -1)
	if len(matches) == 0 {
		return nil
	}
	var fallback string
	var fallbackDone bool
	refs := make([]model.CommitRef, 0, len(matches))
	for _, m := range matches {
		msg := strings.TrimSpace(m[3])
		if msg == "" {
			if !fallbackDone {
				fallback = cmdparse.CommitMessage(CommandText(inv.Input))
				fallbackDone = true
			}
			msg = fallback
		}
		refs = append(refs, model.CommitRef{SHA: m[2], Message: msg})
	}
	return refs
}

// turnCommits collects commit refs across a turn's invocations, keeping the
// first occurrence of each SHA.
func turnCommits(t model.Turn) []model.CommitRef {
	refs := []model.CommitRef{}
	seen := make(map[string]bool)
	for _, inv := range t.Tools() {
		for _, ref := range ExtractCommits(inv) {
			if seen[ref.SHA] {
				continue
			}
			seen[ref.SHA] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// CommandText recovers a shell command string from a tool input. It accepts
// a bare string, {"command": "..."}, {"cmd": "..."}, and argv arrays such as
// ["bash", "-lc", "..."].
func CommandText(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s
	}
	var argv []string
	if err := json.Unmarshal(input, &argv); err == nil {
		return argvText(argv)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(input, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"command", "cmd"} {
		if v, ok := obj[key]; ok {
			return CommandText(v)
		}
	}
	return ""
}

func argvText(argv []string) string {
	if len(argv) >= 3 && (argv[1] == "-lc" || argv[1] == "-c") {
		return argv[2]
	}
	return strings.Join(argv, " ")
}
