package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goliatone/go-botfactory/core"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDeriveCommand_PrintsNamingRecord(t *testing.T) {
	out, err := runCLI(t, "derive", "SimpBot", "--env-file", "")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	var record core.NamingRecord
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if record.Tenant != "SimpBot" || record.Route != "/SimpBot" || record.QueueID != "SQSSimpBot" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestDeriveCommand_RejectsInvalidName(t *testing.T) {
	if _, err := runCLI(t, "derive", "simp bot", "--env-file", ""); err == nil {
		t.Fatalf("expected invalid tenant name to fail")
	}
}

func TestComposeSeed_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("BOT_APPLICATION_ID", "env-app")
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("BOT_PUBLIC_KEY", "")

	seed, err := composeFlags{token: "flag-token", publicKey: "abcd"}.seed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if seed == nil || seed.ApplicationID != "env-app" || seed.Token != "flag-token" || seed.PublicKey != "abcd" {
		t.Fatalf("unexpected seed %+v", seed)
	}
}

func TestComposeSeed_AbsentIsNil(t *testing.T) {
	t.Setenv("BOT_APPLICATION_ID", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("BOT_PUBLIC_KEY", "")
	seed, err := composeFlags{}.seed()
	if err != nil || seed != nil {
		t.Fatalf("expected no seed, got %+v %v", seed, err)
	}
}

func TestSetSecretCommand_RequiresSecret(t *testing.T) {
	t.Setenv("BOT_APPLICATION_ID", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("BOT_PUBLIC_KEY", "")
	_, err := runCLI(t, "set-secret", "SimpBot", "--env-file", "")
	if err == nil || !strings.Contains(err.Error(), "set-secret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestResolveDriver(t *testing.T) {
	for _, name := range []string{"", "sqlite", "SQLite3"} {
		driver, _, dialect, err := resolveDriver(name)
		if err != nil || driver != "sqlite3" || dialect != "sqlite" {
			t.Fatalf("%q: unexpected %s %s %v", name, driver, dialect, err)
		}
	}
	if driver, _, dialect, err := resolveDriver("postgres"); err != nil || driver != "postgres" || dialect != "postgres" {
		t.Fatalf("postgres: unexpected %s %s %v", driver, dialect, err)
	}
	if _, _, _, err := resolveDriver("oracle"); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}

func TestComposeAndTeardownAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "botfactory.yaml")
	dsn := "file:" + filepath.Join(dir, "botfactory.db") + "?cache=shared&_foreign_keys=on"
	config := "persistence:\n  driver: sqlite3\n  dsn: \"" + dsn + "\"\nsecurity:\n  app_key: cli-test-key\n"
	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOT_APPLICATION_ID", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("BOT_PUBLIC_KEY", "")

	out, err := runCLI(t, "compose", "SimpBot", "--config", configPath, "--env-file", "",
		"--application-id", "app-1", "--token", "token-1", "--public-key", strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("compose: %v (%s)", err, out)
	}
	var composed map[string]any
	if err := json.Unmarshal([]byte(out), &composed); err != nil || composed["tenant"] != "SimpBot" {
		t.Fatalf("unexpected compose output %q: %v", out, err)
	}

	out, err = runCLI(t, "teardown", "SimpBot", "--config", configPath, "--env-file", "")
	if err != nil {
		t.Fatalf("teardown: %v (%s)", err, out)
	}
	if !strings.Contains(out, "tore down SimpBot") {
		t.Fatalf("unexpected teardown output %q", out)
	}
}

func TestRequiredConfigMustExist(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := runCLI(t, "teardown", "SimpBot", "--config", missing, "--env-file", ""); err == nil {
		t.Fatalf("expected an explicit missing config to fail")
	}
}
