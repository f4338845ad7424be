// File: internal/shell/local.go
// Brief: Local command execution via os/exec.

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
)

type localHandle struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	cancel context.CancelFunc

	once    sync.Once
	results []Result
	err     error
}

func startLocal(ctx context.Context, cmd string, info ExecInfo) (Handle, error) {
	args, err := shellwords.Parse(cmd)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", cmd, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc = func() {}
	if info.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, info.Timeout)
	}

	c := exec.CommandContext(runCtx, args[0], args[1:]...)
	c.Dir = info.Cwd
	if info.Env != nil {
		c.Env = flattenEnv(info.Env)
	}
	if info.Stdin != "" {
		c.Stdin = strings.NewReader(info.Stdin)
	}

	h := &localHandle{cmd: c, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, cancel: cancel}
	if info.HideOutput {
		c.Stdout = h.stdout
		c.Stderr = h.stderr
	} else {
		c.Stdout = io.MultiWriter(os.Stdout, h.stdout)
		c.Stderr = io.MultiWriter(os.Stderr, h.stderr)
	}

	if err := c.Start(); err != nil {
		cancel()
		return nil, &CmdError{Host: "localhost", Cause: err}
	}
	return h, nil
}

func (h *localHandle) Wait() ([]Result, error) {
	h.once.Do(func() {
		defer h.cancel()
		waitErr := h.cmd.Wait()
		res := Result{
			Host:     "localhost",
			ExitCode: h.cmd.ProcessState.ExitCode(),
			Stdout:   h.stdout.String(),
			Stderr:   h.stderr.String(),
		}
		h.results = []Result{res}
		if waitErr != nil {
			h.err = &CmdError{Host: "localhost", ExitCode: res.ExitCode, Cause: waitErr}
		}
	})
	return h.results, h.err
}

func (h *localHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
