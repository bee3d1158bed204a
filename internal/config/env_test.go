package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	contents := "# comment\n" +
		"PLAIN_KEY=plain\n" +
		"QUOTED_KEY=\"quoted value\"\n" +
		"SINGLE_KEY='single'\n" +
		"export EXPORTED_KEY=exported\n" +
		"not a pair\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	for _, key := range []string{"PLAIN_KEY", "QUOTED_KEY", "SINGLE_KEY", "EXPORTED_KEY"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if err := LoadEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := map[string]string{
		"PLAIN_KEY":    "plain",
		"QUOTED_KEY":   "quoted value",
		"SINGLE_KEY":   "single",
		"EXPORTED_KEY": "exported",
	}
	for key, want := range cases {
		if got := os.Getenv(key); got != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got)
		}
	}
}

func TestLoadEnvExistingValuesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("KEPT_KEY=from_file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("KEPT_KEY", "from_shell")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("KEPT_KEY"); got != "from_shell" {
		t.Fatalf("expected shell value to win, got %q", got)
	}
}

func TestLoadEnvMissingFileIgnored(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file must not error, got %v", err)
	}
}
