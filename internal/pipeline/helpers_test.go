// File: internal/pipeline/helpers_test.go
// Brief: Shared fixtures: test package types, settings, lifecycle trace.

package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/example/dpl/internal/config"
)

// trace records lifecycle hook invocations in order. Tests drive pipelines
// from a single goroutine, so no locking.
var trace []string

func resetTrace() { trace = nil }

func init() {
	Register("test.app", func() Pkg { return &testApp{} })
	Register("test.icept", func() Pkg { return &testIcept{} })
	Register("test.store", func() Pkg { return &testStore{} })
	Register("test.strict", func() Pkg { return &testStrict{} })
	Register("other.app", func() Pkg { return &testApp{} })
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	return &config.Settings{Root: t.TempDir(), ContainerEngine: "docker"}
}

func testLogger() *zap.Logger { return zap.NewNop() }

// testApp is a configurable service stand-in. Failure modes and exports are
// driven through its menu so one type covers most controller paths.
type testApp struct {
	Base

	// Snapshots taken at start time, for assertions on what the package
	// actually observed.
	seenExport  string
	seenPreload string
}

func (a *testApp) ConfigureMenu() Menu {
	return Menu{
		{Name: "port", Msg: "Listen port", Type: TypeInt, Default: 8080},
		{Name: "export", Msg: "Value exported for later packages", Type: TypeString, Default: ""},
		{Name: "fail_configure", Msg: "Force the configure hook to fail", Type: TypeBool, Default: false},
		{Name: "fail_start", Msg: "Force the start hook to fail", Type: TypeBool, Default: false},
		{Name: "fail_stop", Msg: "Force the stop hook to fail", Type: TypeBool, Default: false},
		{Name: "fail_clean", Msg: "Force the clean hook to fail", Type: TypeBool, Default: false},
	}
}

func (a *testApp) Configure(context.Context) error {
	trace = append(trace, "configure:"+a.PkgID)
	if a.ConfigBool("fail_configure") {
		return errors.New("configure refused")
	}
	if v := a.ConfigString("export"); v != "" {
		a.SetEnv("TEST_EXPORT", v)
	}
	return nil
}

func (a *testApp) Start(context.Context) error {
	trace = append(trace, "start:"+a.PkgID)
	if a.ConfigBool("fail_start") {
		return errors.New("bind failed")
	}
	a.seenExport = a.GetEnv("TEST_EXPORT")
	a.seenPreload = a.ModEnv["LD_PRELOAD"]
	a.SetEnv("LAST_STARTED", a.PkgID)
	return nil
}

func (a *testApp) Stop(context.Context) error {
	trace = append(trace, "stop:"+a.PkgID)
	if a.ConfigBool("fail_stop") {
		return errors.New("graceful shutdown timed out")
	}
	return nil
}

func (a *testApp) Kill(context.Context) error {
	trace = append(trace, "kill:"+a.PkgID)
	return nil
}

func (a *testApp) Clean(context.Context) error {
	trace = append(trace, "clean:"+a.PkgID)
	if a.ConfigBool("fail_clean") {
		return errors.New("data directory busy")
	}
	return nil
}

func (a *testApp) Status(context.Context) (string, error) {
	return "ok", nil
}

// testIcept injects a tracing library into its target's private execution
// environment.
type testIcept struct{ Base }

func (i *testIcept) ConfigureMenu() Menu {
	return Menu{
		{Name: "lib", Msg: "Library injected via LD_PRELOAD", Type: TypeString, Default: "/opt/trace/libtrace.so"},
	}
}

func (i *testIcept) ModifyEnv(mod Env) error {
	trace = append(trace, "modify_env:"+i.PkgID)
	i.PrependEnv("LD_PRELOAD", i.ConfigString("lib"))
	mod["TRACE_LEVEL"] = "1"
	return nil
}

// testStore is a storage stand-in with a containerized deploy mode and no
// meaningful status.
type testStore struct{ Base }

func (s *testStore) ConfigureMenu() Menu {
	return Menu{
		{Name: "version", Msg: "Release to install", Type: TypeString, Default: "1.0"},
	}
}

func (s *testStore) AugmentContainer(*ContainerSpec) (string, error) {
	return "RUN /opt/store/install.sh " + s.ConfigString("version"), nil
}

func (s *testStore) Status(context.Context) (string, error) {
	return "", errors.New("daemon unreachable")
}

// testStrict has a required parameter and nothing else.
type testStrict struct{ Base }

func (s *testStrict) ConfigureMenu() Menu {
	return Menu{
		{Name: "path", Msg: "Data directory", Type: TypeString},
	}
}
