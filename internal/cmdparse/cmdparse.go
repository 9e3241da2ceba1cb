// Package cmdparse provides lightweight shell command parsing for commands
// recorded in tool invocations. It splits command strings on pipes, chain
// operators and newlines, identifies program names, and reads flag values.
package cmdparse

import (
	"path/filepath"
	"strings"
)

// Segment represents one command in a pipeline or chain.
type Segment struct {
	Command string   // program name (e.g., "scp")
	Tokens  []string // all tokens after the command
	Raw     string   // original text of this segment (trimmed)
	Start   int      // byte offset of Raw in the full command string
	End     int      // byte offset end (exclusive)
}

// Parse splits a command string into Segments on |, &&, ||, ; and newlines.
// It respects single and double quotes and backslash escapes.
// Start and End offsets point to the trimmed segment text within
// the original command string.
func Parse(cmd string) []Segment {
	parts := splitOperators(cmd)
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p.text)
		if trimmed == "" {
			continue
		}
		// Compute offset of trimmed text within the original string.
		leading := len(p.text) - len(strings.TrimLeft(p.text, " \t"))
		trimStart := p.start + leading
		trimEnd := trimStart + len(trimmed)

		tokens := tokenize(trimmed)
		s := Segment{
			Raw:   trimmed,
			Start: trimStart,
			End:   trimEnd,
		}
		if len(tokens) > 0 {
			s.Command = tokens[0]
			s.Tokens = tokens[1:]
		}
		segs = append(segs, s)
	}
	return segs
}

// Program returns the base name of the segment's program, skipping leading
// VAR=value assignments and a sudo or env prefix.
func (s Segment) Program() string {
	toks := s.words()
	if len(toks) == 0 {
		return ""
	}
	return filepath.Base(Unquote(toks[0]))
}

// Args returns the unquoted tokens after the program name.
func (s Segment) Args() []string {
	toks := s.words()
	if len(toks) < 2 {
		return nil
	}
	args := make([]string, len(toks)-1)
	for i, t := range toks[1:] {
		args[i] = Unquote(t)
	}
	return args
}

// words returns Command and Tokens with leading prefixes dropped.
func (s Segment) words() []string {
	if s.Command == "" {
		return nil
	}
	toks := append([]string{s.Command}, s.Tokens...)
	for len(toks) > 0 {
		t := toks[0]
		switch {
		case t == "sudo" || t == "env" || t == "command" || t == "exec":
			toks = toks[1:]
		case strings.Contains(t, "=") && !strings.HasPrefix(t, "-") && !strings.ContainsAny(t[:strings.Index(t, "=")], "'\"/"):
			toks = toks[1:]
		default:
			return toks
		}
	}
	return nil
}

// FlagValue returns the value of the first matching flag among args. It
// understands "-m value", "-mvalue", combined short flags ending in the flag
// letter ("-am value"), "--message value" and "--message=value".
func FlagValue(args []string, short byte, long string) (string, bool) {
	for i, a := range args {
		if a == "--" {
			return "", false
		}
		if long != "" {
			if a == "--"+long && i+1 < len(args) {
				return args[i+1], true
			}
			if v, ok := strings.CutPrefix(a, "--"+long+"="); ok {
				return v, true
			}
		}
		if short == 0 || len(a) < 2 || a[0] != '-' || a[1] == '-' {
			continue
		}
		if idx := strings.IndexByte(a[1:], short); idx >= 0 {
			rest := a[idx+2:]
			if rest != "" {
				return rest, true
			}
			if i+1 < len(args) {
				return args[i+1], true
			}
		}
	}
	return "", false
}

// gitGlobalWithValue lists git options that consume the following token.
var gitGlobalWithValue = map[string]bool{"-C": true, "-c": true, "--git-dir": true, "--work-tree": true, "--namespace": true}

// GitSubcommand returns the git subcommand of seg and its arguments, or ""
// if seg is not a git invocation.
func GitSubcommand(seg Segment) (string, []string) {
	if seg.Program() != "git" {
		return "", nil
	}
	args := seg.Args()
	for i := 0; i < len(args); i++ {
		a := args[i]
		if gitGlobalWithValue[a] {
			i++
			continue
		}
		if strings.HasPrefix(a, "-") {
			continue
		}
		return a, args[i+1:]
	}
	return "", nil
}

// CommitMessage returns the first line of the -m message of the first
// "git commit" in cmd, or "" when there is none or it is computed by the
// shell (for example a $(cat <<EOF ...) substitution).
func CommitMessage(cmd string) string {
	for _, seg := range Parse(cmd) {
		sub, args := GitSubcommand(seg)
		if sub != "commit" {
			continue
		}
		msg, ok := FlagValue(args, 'm', "message")
		if !ok || strings.HasPrefix(msg, "$(") || strings.HasPrefix(msg, "`") {
			return ""
		}
		first, _, _ := strings.Cut(msg, "\n")
		return strings.TrimSpace(first)
	}
	return ""
}

// Unquote strips one pair of matching surrounding quotes from a token.
func Unquote(tok string) string {
	if len(tok) >= 2 {
		if (tok[0] == '\'' && tok[len(tok)-1] == '\'') || (tok[0] == '"' && tok[len(tok)-1] == '"') {
			return tok[1 : len(tok)-1]
		}
	}
	return tok
}

// part is an internal type for split results.
type part struct {
	text  string
	start int
	end   int
}

// splitOperators splits on unquoted |, &&, ||, ; and newlines while
// preserving offsets.
func splitOperators(cmd string) []part {
	var parts []part
	inSingle := false
	inDouble := false
	escaped := false
	segStart := 0

	i := 0
	for i < len(cmd) {
		ch := cmd[i]
		if escaped {
			escaped = false
			i++
			continue
		}
		if ch == '\\' && !inSingle {
			escaped = true
			i++
			continue
		}
		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			i++
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			i++
			continue
		}
		if inSingle || inDouble {
			i++
			continue
		}

		// Check for operators: &&, ||, |, ;, newline
		if ch == ';' || ch == '\n' {
			parts = append(parts, part{text: cmd[segStart:i], start: segStart, end: i})
			segStart = i + 1
			i++
			continue
		}
		if ch == '|' {
			if i+1 < len(cmd) && cmd[i+1] == '|' {
				parts = append(parts, part{text: cmd[segStart:i], start: segStart, end: i})
				segStart = i + 2
				i += 2
				continue
			}
			parts = append(parts, part{text: cmd[segStart:i], start: segStart, end: i})
			segStart = i + 1
			i++
			continue
		}
		if ch == '&' && i+1 < len(cmd) && cmd[i+1] == '&' {
			parts = append(parts, part{text: cmd[segStart:i], start: segStart, end: i})
			segStart = i + 2
			i += 2
			continue
		}
		i++
	}
	// Final segment.
	if segStart < len(cmd) {
		parts = append(parts, part{text: cmd[segStart:], start: segStart, end: len(cmd)})
	}
	return parts
}

// tokenize splits a command segment into tokens, respecting quotes and escapes.
// It does not interpret shell syntax beyond basic quoting.
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	inSingle := false
	inDouble := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			current.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' && !inSingle {
			escaped = true
			// In double quotes, only escape certain chars; for simplicity
			// we pass through the backslash for the token.
			if inDouble {
				current.WriteByte(ch)
			}
			continue
		}
		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			current.WriteByte(ch) // preserve quotes in token
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			current.WriteByte(ch) // preserve quotes in token
			continue
		}
		if (ch == ' ' || ch == '\t') && !inSingle && !inDouble {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteByte(ch)
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
