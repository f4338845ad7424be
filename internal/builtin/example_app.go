// File: internal/builtin/example_app.go
// Brief: Generic service package: runs one command, keeps it running.

package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/example/dpl/internal/hostfile"
	"github.com/example/dpl/internal/pipeline"
	"github.com/example/dpl/internal/shell"
)

// ExampleApp wraps an arbitrary command as a pipeline package. The command
// starts asynchronously under the package's private environment and is
// joined (or killed) when the pipeline stops. With a hostfile it fans out
// over SSH to every listed host.
type ExampleApp struct {
	pipeline.Base

	handle shell.Handle
}

func (a *ExampleApp) ConfigureMenu() pipeline.Menu {
	return pipeline.Menu{
		{Name: "cmd", Msg: "Command the service runs", Type: pipeline.TypeString},
		{Name: "stop_cmd", Msg: "Command that gracefully stops the service", Type: pipeline.TypeString, Default: ""},
		{Name: "hostfile", Msg: "Hostfile for multi-host execution", Type: pipeline.TypeString, Default: ""},
	}
}

func (a *ExampleApp) Configure(context.Context) error {
	if _, err := shellwords.Parse(a.ConfigString("cmd")); err != nil {
		return fmt.Errorf("parse cmd: %w", err)
	}
	return nil
}

func (a *ExampleApp) execInfo(async bool) (shell.ExecInfo, error) {
	info := shell.ExecInfo{
		Type:       shell.Local,
		Env:        a.ModEnv,
		Async:      async,
		Timeout:    time.Duration(a.ConfigInt("timeout")) * time.Second,
		HideOutput: a.ConfigBool("hide_output"),
	}
	if path := a.ConfigString("hostfile"); path != "" {
		hf, err := hostfile.Load(path)
		if err != nil {
			return info, err
		}
		if !hf.IsLocal() {
			info.Type = shell.PSSH
			info.Hosts = hf.Hosts
		}
	}
	return info, nil
}

func (a *ExampleApp) Start(ctx context.Context) error {
	info, err := a.execInfo(true)
	if err != nil {
		return err
	}
	h, err := shell.Run(ctx, a.ConfigString("cmd"), info)
	if err != nil {
		return err
	}
	a.handle = h
	return nil
}

func (a *ExampleApp) Stop(ctx context.Context) error {
	if a.handle == nil {
		return nil
	}
	defer func() { a.handle = nil }()
	if stop := a.ConfigString("stop_cmd"); stop != "" {
		info, err := a.execInfo(false)
		if err != nil {
			return err
		}
		if _, err := shell.Run(ctx, stop, info); err != nil {
			return err
		}
		// The service is expected to exit on its own after the stop
		// command; the join outcome is informational.
		if _, err := a.handle.Wait(); err != nil {
			a.Log.Debugw("service exited non-zero after stop", "pkg", a.GlobalID, "err", err)
		}
		return nil
	}
	if err := a.handle.Kill(); err != nil {
		return err
	}
	_, _ = a.handle.Wait()
	return nil
}

func (a *ExampleApp) Kill(context.Context) error {
	if a.handle == nil {
		return nil
	}
	defer func() { a.handle = nil }()
	if err := a.handle.Kill(); err != nil {
		return err
	}
	_, _ = a.handle.Wait()
	return nil
}

func (a *ExampleApp) Status(context.Context) (string, error) {
	if a.handle != nil {
		return "running", nil
	}
	return pipeline.StatusUnknown, nil
}
