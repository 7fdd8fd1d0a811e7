package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/certen/biscuit/internal/runtime"
)

func testConfig(t *testing.T) *runtime.Config {
	t.Helper()
	for _, key := range []string{"BISCUIT_LOG_LEVEL", "BISCUIT_LOG_FORMAT", "BISCUIT_LOG_OUTPUT", "BISCUIT_DEFAULT_ALGORITHM"} {
		os.Unsetenv(key)
	}
	cfg, err := runtime.Load()
	if err != nil {
		t.Fatalf("runtime.Load: %v", err)
	}
	return cfg
}

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it, since writeToken/runAuthorize print their
// result there rather than returning it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = orig
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured stdout: %v", err)
	}
	return string(bytes.TrimSpace(out))
}

func TestCLIEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)

	blockPath := filepath.Join(dir, "authority.json")
	writeFixture(t, blockPath, `{
		"context": "authority",
		"facts": [{"name": "user", "terms": [{"str": "alice"}]}]
	}`)

	rootKeyPath := filepath.Join(dir, "root.key")
	rootPubPath := filepath.Join(dir, "root.pub")
	tokenPath := filepath.Join(dir, "token1.txt")

	newOut := captureStdout(t, func() {
		err := runNew(cfg, []string{
			"-block", blockPath,
			"-root-key-out", rootKeyPath,
			"-root-pub-out", rootPubPath,
			"-out", tokenPath,
		})
		if err != nil {
			t.Fatalf("runNew: %v", err)
		}
	})
	if newOut != "" {
		t.Fatalf("unexpected stdout from runNew: %q", newOut)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		t.Fatalf("token not written: %v", err)
	}

	attenuateBlockPath := filepath.Join(dir, "attenuation.json")
	writeFixture(t, attenuateBlockPath, `{
		"context": "attenuation",
		"checks": [{"kind": "check_if", "query": {"body": [{"name": "user", "terms": [{"str": "alice"}]}]}}]
	}`)
	token2Path := filepath.Join(dir, "token2.txt")
	if err := runAttenuate(cfg, []string{
		"-in", tokenPath,
		"-root-pub-in", rootPubPath,
		"-block", attenuateBlockPath,
		"-out", token2Path,
	}); err != nil {
		t.Fatalf("runAttenuate: %v", err)
	}

	sealedPath := filepath.Join(dir, "sealed.txt")
	if err := runSeal(cfg, []string{
		"-in", token2Path,
		"-root-pub-in", rootPubPath,
		"-out", sealedPath,
	}); err != nil {
		t.Fatalf("runSeal: %v", err)
	}

	authorizerPath := filepath.Join(dir, "authorizer.json")
	writeFixture(t, authorizerPath, `{
		"policies": [{"kind": "allow_if", "query": {"body": [{"name": "user", "terms": [{"str": "alice"}]}]}}]
	}`)

	decision := captureStdout(t, func() {
		if err := runAuthorize(cfg, []string{
			"-in", sealedPath,
			"-root-pub-in", rootPubPath,
			"-authorizer", authorizerPath,
		}); err != nil {
			t.Fatalf("runAuthorize: %v", err)
		}
	})
	if decision != "allowed" {
		t.Fatalf("decision = %q, want %q", decision, "allowed")
	}

	inspectOut := captureStdout(t, func() {
		if err := runInspect(cfg, []string{"-in", sealedPath}); err != nil {
			t.Fatalf("runInspect: %v", err)
		}
	})
	if inspectOut == "" {
		t.Fatal("expected non-empty inspect output")
	}
}

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
}
