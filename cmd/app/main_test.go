package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateAcceptsDefaults(t *testing.T) {
	var out, errOut bytes.Buffer
	path := writeConfig(t, "environment: test\n")

	code := execute([]string{"validate", "--config", path, "--env-file", ""}, &out, &errOut)
	assert.Equal(t, exitOK, code, errOut.String())
	assert.Contains(t, out.String(), "config OK: env=test symbols=NIFTY,BANKNIFTY")
}

func TestValidateRejectsContradictions(t *testing.T) {
	var out, errOut bytes.Buffer
	path := writeConfig(t, "analysis:\n  next_week_day_range: [9, 5]\n")

	code := execute([]string{"validate", "--config", path, "--env-file", ""}, &out, &errOut)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut.String(), "inverted")
}

func TestMissingConfigIsConfigError(t *testing.T) {
	var out, errOut bytes.Buffer
	code := execute([]string{"validate", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, &out, &errOut)
	assert.Equal(t, exitConfig, code)
}

func TestUnknownCommandIsInitFailure(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, exitInit, execute([]string{"bogus"}, &out, &errOut))
}

func TestVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, exitOK, execute([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), "chainpulse dev")
}
