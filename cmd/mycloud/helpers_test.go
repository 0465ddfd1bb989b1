package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"mycloud/internal/config"
	"mycloud/internal/format"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "mycloud.db")
	cfg.Storage.Root = filepath.Join(dir, "blobs")
	cfg.Auth.JWTSecret = strings.Repeat("s", 32)
	return &cfg
}

// captureOutput redirects command output into a buffer for the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFormatter := stdout, outputFormatter
	stdout = &buf
	outputFormatter = format.JSONFormatter{}
	t.Cleanup(func() {
		stdout = prevOut
		outputFormatter = prevFormatter
	})
	return &buf
}

func withPasswordInput(t *testing.T, password string) {
	t.Helper()
	prev := passwordInput
	passwordInput = strings.NewReader(password + "\n")
	t.Cleanup(func() { passwordInput = prev })
}

func runCmd(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}
