// File: internal/builtin/builtin_test.go
// Brief: Builtin type behavior: app lifecycle, preload injection, ior args.

package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/dpl/internal/pipeline"
)

// prime fills the embedded Base the way the controller would at configure
// time: cast config with defaults, fresh env views, a quiet logger.
func prime(t *testing.T, p pipeline.Pkg, raw map[string]any) {
	t.Helper()
	menu := pipeline.FullMenu(p)
	cfg, err := menu.Cast(raw)
	if err != nil {
		t.Fatalf("cast config: %v", err)
	}
	menu.ApplyDefaults(cfg)
	if err := menu.CheckRequired(cfg); err != nil {
		t.Fatalf("required check: %v", err)
	}
	switch v := p.(type) {
	case *ExampleApp:
		v.Config, v.Env, v.ModEnv, v.Log = cfg, pipeline.Env{}, pipeline.Env{}, zap.NewNop().Sugar()
	case *ExampleInterceptor:
		v.Config, v.Env, v.ModEnv, v.Log = cfg, pipeline.Env{}, pipeline.Env{}, zap.NewNop().Sugar()
	case *Ior:
		v.Config, v.Env, v.ModEnv, v.Log = cfg, pipeline.Env{}, pipeline.Env{}, zap.NewNop().Sugar()
	default:
		t.Fatalf("unknown test package type %T", p)
	}
}

func TestRegistration(t *testing.T) {
	for _, short := range []string{"example_app", "example_interceptor", "ior"} {
		full, err := pipeline.ResolveType(short)
		if err != nil {
			t.Fatalf("ResolveType(%s): %v", short, err)
		}
		if full != "builtin."+short {
			t.Fatalf("expected builtin.%s, got %s", short, full)
		}
	}
}

func TestExampleApp_StartStatusStop(t *testing.T) {
	app := &ExampleApp{}
	prime(t, app, map[string]any{"cmd": "sleep 30", "hide_output": true})
	if err := app.Configure(context.Background()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status, _ := app.Status(context.Background()); status != "running" {
		t.Fatalf("expected running, got %q", status)
	}
	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if status, _ := app.Status(context.Background()); status != pipeline.StatusUnknown {
		t.Fatalf("expected unknown after stop, got %q", status)
	}
	// Stop on an already-stopped service is a no-op.
	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestExampleApp_ConfigureRejectsUnparsableCmd(t *testing.T) {
	app := &ExampleApp{}
	prime(t, app, map[string]any{"cmd": "echo 'unterminated"})
	if err := app.Configure(context.Background()); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestExampleInterceptor_InjectsResolvedLibrary(t *testing.T) {
	libdir := t.TempDir()
	lib := filepath.Join(libdir, "libtracer.so")
	if err := os.WriteFile(lib, []byte{}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	icept := &ExampleInterceptor{}
	prime(t, icept, map[string]any{"lib": "tracer", "vars": []string{"TRACE_DIR=/tmp/trace"}})
	icept.ModEnv["LD_LIBRARY_PATH"] = libdir

	if err := icept.ModifyEnv(icept.ModEnv); err != nil {
		t.Fatalf("ModifyEnv: %v", err)
	}
	if icept.ModEnv["LD_PRELOAD"] != lib {
		t.Fatalf("expected resolved library preloaded, got %q", icept.ModEnv["LD_PRELOAD"])
	}
	if icept.ModEnv["TRACE_DIR"] != "/tmp/trace" {
		t.Fatalf("expected var injected, got %q", icept.ModEnv["TRACE_DIR"])
	}
	if _, ok := icept.Env["LD_PRELOAD"]; ok {
		t.Fatalf("LD_PRELOAD leaked into the propagating view")
	}
}

func TestExampleInterceptor_MissingLibraryFails(t *testing.T) {
	icept := &ExampleInterceptor{}
	prime(t, icept, map[string]any{"lib": "/no/such/libx.so"})
	if err := icept.ModifyEnv(icept.ModEnv); err == nil {
		t.Fatalf("expected missing library to fail")
	}
}

func TestIor_CommandAssembly(t *testing.T) {
	r := &Ior{}
	prime(t, r, map[string]any{
		"write": true,
		"read":  false,
		"xfer":  "4m",
		"block": "64m",
		"api":   "MPIIO",
		"out":   "/mnt/pfs/ior.bin",
	})
	got := r.command()
	want := "ior -w -t 4m -b 64m -a MPIIO -k -o /mnt/pfs/ior.bin"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestIor_ConfigureValidation(t *testing.T) {
	r := &Ior{}
	prime(t, r, map[string]any{"write": false, "read": false})
	if err := r.Configure(context.Background()); err == nil {
		t.Fatalf("expected rejection when both phases disabled")
	}
	r2 := &Ior{}
	prime(t, r2, map[string]any{"deploy_mode": "orbit"})
	if err := r2.Configure(context.Background()); err == nil {
		t.Fatalf("expected rejection of unsupported deploy mode")
	}
}

func TestIor_AugmentContainer(t *testing.T) {
	r := &Ior{}
	prime(t, r, nil)
	frag, err := r.AugmentContainer(&pipeline.ContainerSpec{Name: "deploy", SSHPort: 2222})
	if err != nil {
		t.Fatalf("AugmentContainer: %v", err)
	}
	if !strings.Contains(frag, "apt-get install") || !strings.Contains(frag, "ior") {
		t.Fatalf("expected install fragment, got %q", frag)
	}
	if !strings.Contains(frag, "EXPOSE 2222") {
		t.Fatalf("expected ssh port exposed, got %q", frag)
	}
}
