package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sub := range []string{"run", "event", "lessons", "config", "serve", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestRunSubcommands(t *testing.T) {
	subcmds := []string{"start", "advance", "approve", "abort", "status", "list", "delete"}
	for _, sub := range subcmds {
		out, err := executeCommand("run", sub, "--help")
		if err != nil {
			t.Errorf("run %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("run %s --help produced no output", sub)
		}
	}
}

func TestConfigValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coyote.yaml")
	content := `
pipeline:
  stages:
    - name: investigate
    - name: design
llm:
  provider: anthropic
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := executeCommand("config", "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidateRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coyote.yaml")
	content := `
pipeline:
  stages:
    - name: deploy
llm:
  provider: anthropic
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := executeCommand("config", "validate", path)
	if err == nil {
		t.Fatalf("expected validation failure, got:\n%s", out)
	}
	if !strings.Contains(out, "deploy") {
		t.Errorf("output = %q, want unknown stage named", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 50); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate(strings.Repeat("x", 50), 50); got != strings.Repeat("x", 50) {
		t.Errorf("exact-length string changed: %q", got)
	}

	got := truncate(strings.Repeat("é", 60), 50)
	if n := utf8.RuneCountInString(got); n != 50 {
		t.Errorf("truncated to %d runes, want 50", n)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated string is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated string missing ellipsis: %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := executeCommand("nonexistent"); err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
