//go:build integration

package integration

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestSmokeHelp verifies the cct binary runs and prints help.
func TestSmokeHelp(t *testing.T) {
	e := newEnv(t)
	stdout, _ := e.mustRun(nil, "--help")
	for _, want := range []string{"convert", "patterns", "bank"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected help to mention %q, got:\n%s", want, stdout)
		}
	}
}

// TestSmokeVersion verifies cct version names the binary.
func TestSmokeVersion(t *testing.T) {
	e := newEnv(t)
	stdout, _ := e.mustRun(nil, "version")
	if !strings.HasPrefix(stdout, "cct ") {
		t.Errorf("version output = %q", stdout)
	}
}

// TestSmokeSessions lists sessions from the configured projects directory.
func TestSmokeSessions(t *testing.T) {
	e := newEnv(t)
	e.writeSession("-home-me-projects-app", "sess-1", claudeSession)
	e.writeSession("-home-me-projects-app", "agent-9", flatSession)

	stdout, _ := e.mustRun(nil, "sessions", "--json")
	var infos []map[string]any
	if err := json.Unmarshal([]byte(stdout), &infos); err != nil {
		t.Fatalf("parse sessions JSON: %v\n%s", err, stdout)
	}
	if len(infos) != 1 || infos[0]["session_id"] != "sess-1" || infos[0]["project"] != "app" {
		t.Errorf("sessions = %v", infos)
	}
}

// TestSmokeBankEmpty verifies bank show works on a fresh bank.
func TestSmokeBankEmpty(t *testing.T) {
	e := newEnv(t)
	stdout, _ := e.mustRun(nil, "bank", "show")
	if !strings.Contains(stdout, "empty") {
		t.Errorf("expected empty bank message, got:\n%s", stdout)
	}
}
