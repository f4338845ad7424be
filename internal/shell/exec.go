// File: internal/shell/exec.go
// Brief: Execution backend types and dispatch (local/ssh/pssh/mpi).

// Package shell runs commands for the pipeline controller: locally, over
// SSH to one host, fanned out over SSH to many hosts, or through an MPI
// launcher. Callers describe the execution with ExecInfo and get back a
// Handle they may wait on later, so a package's Start can return while
// remote work continues and its Stop joins the handle.
package shell

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ExecType selects the execution backend.
type ExecType string

const (
	Local ExecType = "local"
	SSH   ExecType = "ssh"
	PSSH  ExecType = "pssh"
	MPI   ExecType = "mpi"
)

// ExecInfo carries everything needed to run one command.
type ExecInfo struct {
	Type  ExecType
	Hosts []string // remote hosts; empty means localhost
	User  string
	Port  int
	// KeyPath is the SSH private key; defaults to ~/.ssh/id_rsa.
	KeyPath string
	// Env is the exact environment for the command. nil inherits the
	// process environment (local only); remote commands always receive an
	// explicit export preamble.
	Env        map[string]string
	Cwd        string
	Nprocs     int
	Ppn        int
	Async      bool
	Timeout    time.Duration
	HideOutput bool
	Stdin      string
}

// Result is the outcome of one command on one host.
type Result struct {
	Host     string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Handle tracks an in-flight command. Wait blocks until completion and
// returns per-host results; it is safe to call once from the goroutine that
// created the handle. Kill forcefully terminates whatever is still running.
type Handle interface {
	Wait() ([]Result, error)
	Kill() error
}

// CmdError reports a command that ran and failed, or a host that could not
// be reached.
type CmdError struct {
	Host     string
	ExitCode int
	Cause    error
}

func (e *CmdError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("host %s: %v", e.Host, e.Cause)
	}
	return fmt.Sprintf("host %s: exit status %d", e.Host, e.ExitCode)
}

func (e *CmdError) Unwrap() error { return e.Cause }

// Run starts cmd according to info. When info.Async is false Run waits for
// completion and returns a finished handle; otherwise the command keeps
// running and the caller owns the join.
func Run(ctx context.Context, cmd string, info ExecInfo) (Handle, error) {
	var h Handle
	var err error
	switch info.Type {
	case Local, "":
		h, err = startLocal(ctx, cmd, info)
	case SSH:
		h, err = startSSH(ctx, cmd, info)
	case PSSH:
		h, err = startPSSH(ctx, cmd, info)
	case MPI:
		h, err = startMPI(ctx, cmd, info)
	default:
		return nil, fmt.Errorf("unsupported exec type %q", info.Type)
	}
	if err != nil {
		return nil, err
	}
	if info.Async {
		return h, nil
	}
	if _, err := h.Wait(); err != nil {
		return h, err
	}
	return h, nil
}

// doneHandle wraps already-collected results so synchronous runs and
// repeated waits behave uniformly.
type doneHandle struct {
	results []Result
	err     error
}

func (d *doneHandle) Wait() ([]Result, error) { return d.results, d.err }
func (d *doneHandle) Kill() error             { return nil }

// envPreamble renders env as a deterministic export prefix for remote
// commands.
func envPreamble(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("export %s=%q && ", k, env[k])
	}
	return out
}
