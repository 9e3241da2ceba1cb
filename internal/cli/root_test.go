package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scbrown/transcripts/internal/config"
)

const testSession = `{"type":"user","content":"always run the tests before committing"}
{"type":"assistant","content":"ok"}
{"type":"user","content":"add a retry flag to the client"}
{"type":"assistant","content":"done"}
{"type":"user","content":"now update the readme"}
{"type":"assistant","content":"updated"}
`

// setupEnv points the config file and home directory at a temp dir and
// returns it.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv(APIKeyEnv, "")
	orig := configPath
	configPath = filepath.Join(dir, "config.toml")
	t.Cleanup(func() { configPath = orig })
	return dir
}

// resetFlags restores every flag and the globals they feed, since cobra
// keeps flag state across Execute calls.
func resetFlags() {
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		reset := func(f *pflag.Flag) {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
	cfg = &config.Config{}
}

// execute runs the CLI with args and stdin, returning stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// writeProject writes session logs into an encoded project directory under
// root and returns root.
func writeProject(t *testing.T, root string, sessions map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, "-home-me-projects-app")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for id, content := range sessions {
		if err := os.WriteFile(filepath.Join(dir, id+".jsonl"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestRootDefaultFormatJSON(t *testing.T) {
	dir := setupEnv(t)
	if err := os.WriteFile(configPath, []byte("default_format = \"json\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	root := writeProject(t, filepath.Join(dir, "projects"), map[string]string{"s1": testSession})
	out, _, err := execute(t, "", "sessions", "--projects-dir", root)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(out), "[") {
		t.Errorf("default_format json should give a JSON array, got %q", out)
	}
}

func TestRootInvalidConfig(t *testing.T) {
	setupEnv(t)
	if err := os.WriteFile(configPath, []byte("weigher = \"lines\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := execute(t, "", "version")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("err = %v, want load config error", err)
	}
}

func TestCorruptHint(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "bank.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := execute(t, "", "bank", "show", "--backend", "json", "--bank", path)
	if err == nil {
		t.Fatal("expected error for corrupt bank")
	}
	if !strings.Contains(err.Error(), "cct bank reset --force") {
		t.Errorf("error should point at bank reset, got %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
