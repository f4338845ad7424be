// File: internal/pipeline/pkg_test.go
// Brief: Base environment routing, library lookup, templates, persistence.

package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newBase(t *testing.T) *Base {
	t.Helper()
	root := t.TempDir()
	return &Base{
		PkgID:      "b",
		GlobalID:   "test.b",
		Config:     map[string]any{},
		Env:        Env{},
		ModEnv:     Env{},
		ConfigDir:  filepath.Join(root, "config"),
		SharedDir:  filepath.Join(root, "shared"),
		PrivateDir: filepath.Join(root, "private"),
		Log:        zap.NewNop().Sugar(),
	}
}

func TestBase_SetEnvRoutesPreloadToModEnv(t *testing.T) {
	b := newBase(t)
	b.SetEnv("LD_PRELOAD", "/lib/libx.so")
	b.SetEnv("PATH", "/usr/bin")
	if _, ok := b.Env["LD_PRELOAD"]; ok {
		t.Fatalf("LD_PRELOAD landed in the shared environment view")
	}
	if b.ModEnv["LD_PRELOAD"] != "/lib/libx.so" {
		t.Fatalf("expected LD_PRELOAD in ModEnv, got %q", b.ModEnv["LD_PRELOAD"])
	}
	if b.Env["PATH"] != "/usr/bin" || b.ModEnv["PATH"] != "/usr/bin" {
		t.Fatalf("expected PATH in both views, got env=%q mod=%q", b.Env["PATH"], b.ModEnv["PATH"])
	}
}

func TestBase_PrependEnvIsIdempotent(t *testing.T) {
	b := newBase(t)
	b.PrependEnv("LD_PRELOAD", "/lib/liba.so")
	b.PrependEnv("LD_PRELOAD", "/lib/libb.so")
	b.PrependEnv("LD_PRELOAD", "/lib/liba.so")
	if got := b.ModEnv["LD_PRELOAD"]; got != "/lib/libb.so:/lib/liba.so" {
		t.Fatalf("expected idempotent prepend, got %q", got)
	}
	b.PrependEnv("PATH", "/opt/bin")
	b.PrependEnv("PATH", "/opt/bin")
	if got := b.Env["PATH"]; got != "/opt/bin" {
		t.Fatalf("expected single PATH entry, got %q", got)
	}
}

func TestBase_FindLibrary(t *testing.T) {
	libdir := t.TempDir()
	want := filepath.Join(libdir, "libfake.so")
	if err := os.WriteFile(want, []byte{}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	b := newBase(t)
	b.ModEnv["LD_LIBRARY_PATH"] = libdir
	if got := b.FindLibrary("fake"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := b.FindLibrary("definitely-not-installed"); got != "" {
		t.Fatalf("expected empty result for missing library, got %q", got)
	}
}

func TestBase_CopyTemplate(t *testing.T) {
	b := newBase(t)
	src := filepath.Join(t.TempDir(), "conf.tmpl")
	if err := os.WriteFile(src, []byte("port=##PORT##\nhost=##HOST##\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(b.SharedDir, "conf")
	if err := b.CopyTemplate(src, dst, map[string]string{"PORT": "8080", "HOST": "node1"}); err != nil {
		t.Fatalf("CopyTemplate: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(data); !strings.Contains(got, "port=8080") || !strings.Contains(got, "host=node1") {
		t.Fatalf("unexpected rendered template: %q", got)
	}
}

func TestBase_SaveLoadStateRoundTrip(t *testing.T) {
	b := newBase(t)
	b.Config["port"] = 9090
	b.Env["PATH"] = "/usr/bin"
	b.ModEnv["LD_PRELOAD"] = "/lib/libx.so"
	if err := b.saveState(); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	fresh := &Base{
		GlobalID:  b.GlobalID,
		Config:    map[string]any{},
		Env:       Env{},
		ModEnv:    Env{},
		ConfigDir: b.ConfigDir,
		Log:       zap.NewNop().Sugar(),
	}
	if err := fresh.loadState(); err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if fresh.ConfigInt("port") != 9090 {
		t.Fatalf("expected port restored, got %#v", fresh.Config["port"])
	}
	if fresh.Env["PATH"] != "/usr/bin" {
		t.Fatalf("expected env restored, got %q", fresh.Env["PATH"])
	}
	if fresh.ModEnv["LD_PRELOAD"] != "/lib/libx.so" {
		t.Fatalf("expected mod_env restored, got %q", fresh.ModEnv["LD_PRELOAD"])
	}
}

func TestBase_DestroyTreeRemovesPackageSubtree(t *testing.T) {
	b := newBase(t)
	if err := b.ensureDirs(); err != nil {
		t.Fatalf("ensureDirs: %v", err)
	}
	if err := b.destroyTree(); err != nil {
		t.Fatalf("destroyTree: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(b.ConfigDir)); !os.IsNotExist(err) {
		t.Fatalf("expected package subtree removed, stat err=%v", err)
	}
	if b.State != StateDestroyed {
		t.Fatalf("expected destroyed state, got %q", b.State)
	}
}
