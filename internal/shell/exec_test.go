package shell

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunLocalCapturesOutput(t *testing.T) {
	h, err := Run(context.Background(), "echo hello", ExecInfo{Type: Local, HideOutput: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	results, err := h.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(results) != 1 || results[0].ExitCode != 0 {
		t.Fatalf("results: %+v", results)
	}
	if strings.TrimSpace(results[0].Stdout) != "hello" {
		t.Fatalf("stdout=%q", results[0].Stdout)
	}
}

func TestRunLocalNonZeroExit(t *testing.T) {
	_, err := Run(context.Background(), "sh -c 'exit 3'", ExecInfo{Type: Local, HideOutput: true})
	if err == nil {
		t.Fatal("expected error")
	}
	var cmdErr *CmdError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("want CmdError, got %T: %v", err, err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("exit code=%d want 3", cmdErr.ExitCode)
	}
}

func TestRunLocalExplicitEnv(t *testing.T) {
	h, err := Run(context.Background(), "sh -c 'echo $GREETING'", ExecInfo{
		Type:       Local,
		Env:        map[string]string{"GREETING": "hi", "PATH": "/usr/bin:/bin"},
		HideOutput: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	results, _ := h.Wait()
	if strings.TrimSpace(results[0].Stdout) != "hi" {
		t.Fatalf("stdout=%q", results[0].Stdout)
	}
}

func TestRunAsyncReturnsBeforeCompletion(t *testing.T) {
	start := time.Now()
	h, err := Run(context.Background(), "sleep 2", ExecInfo{Type: Local, Async: true, HideOutput: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("async run blocked for %v", elapsed)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if _, err := h.Wait(); err == nil {
		t.Fatal("expected error after kill")
	}
}

func TestRunRejectsUnknownType(t *testing.T) {
	if _, err := Run(context.Background(), "true", ExecInfo{Type: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnvPreambleDeterministic(t *testing.T) {
	env := map[string]string{"B": "2", "A": "1"}
	got := envPreamble(env)
	want := `export A="1" && export B="2" && `
	if got != want {
		t.Fatalf("preamble=%q want %q", got, want)
	}
	if envPreamble(nil) != "" {
		t.Fatal("nil env should produce empty preamble")
	}
}

func TestMPILauncherEnvStripsPreload(t *testing.T) {
	env := map[string]string{"LD_PRELOAD": "/tmp/x.so", "PATH": "/bin"}
	got := launcherEnv(env)
	if _, ok := got["LD_PRELOAD"]; ok {
		t.Fatal("launcher env must not carry LD_PRELOAD")
	}
	if got["PATH"] != "/bin" {
		t.Fatalf("PATH lost: %v", got)
	}
}
