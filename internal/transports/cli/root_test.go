package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"devstash/internal/core"
	"devstash/pkg/logger"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devstash.yaml")
	data := "app:\n  data_dir: " + dir + "\nipc:\n  enabled: true\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, opts Options, args ...string) (string, error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.NewWithWriter(io.Discard, "error")
	}
	root := New(opts)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, Options{Mode: core.BuildRelease, Version: "1.2.3"}, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "1.2.3 (release)\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCommandsListsRegistry(t *testing.T) {
	out, err := run(t, Options{Mode: core.BuildRelease}, "--config", writeConfig(t), "commands")
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	seen := map[string]bool{}
	for _, l := range lines {
		seen[l] = true
	}
	for _, want := range []string{"greet", "plugin:fs|read_text_file", "plugin:os|info"} {
		if !seen[want] {
			t.Fatalf("%s missing in %v", want, lines)
		}
	}
	if seen["plugin:log|log"] {
		t.Fatal("release build must not register log commands")
	}
}

func TestInvokeGreet(t *testing.T) {
	out, err := run(t, Options{Mode: core.BuildRelease}, "-c", writeConfig(t), "invoke", "greet", `{"name":"cli"}`)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var resp core.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.ID == "" || resp.Err != nil {
		t.Fatalf("unexpected response %#v", resp)
	}
	if !strings.Contains(out, "Hello, cli! You've been greeted from Rust!") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestInvokeUnknownCommand(t *testing.T) {
	out, err := run(t, Options{Mode: core.BuildRelease, Modules: []core.Module{}}, "-c", writeConfig(t), "invoke", "nope")
	if !errors.Is(err, ErrInvocationFailed) {
		t.Fatalf("expected invocation failure, got %v", err)
	}
	if !strings.Contains(out, `"kind": "unknown_command"`) {
		t.Fatalf("error response must be printed, got %q", out)
	}
}

func TestInvokeRejectsBadJSON(t *testing.T) {
	_, err := run(t, Options{Mode: core.BuildRelease}, "invoke", "greet", `{"name":`)
	if err == nil || !strings.Contains(err.Error(), "not valid json") {
		t.Fatalf("expected json error, got %v", err)
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, Options{Mode: core.BuildRelease}, "-c", filepath.Join(t.TempDir(), "none.yaml"), "commands")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
}
