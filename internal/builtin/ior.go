// File: internal/builtin/ior.go
// Brief: IOR parallel I/O benchmark package, default and container modes.

package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/dpl/internal/hostfile"
	"github.com/example/dpl/internal/pipeline"
	"github.com/example/dpl/internal/shell"
)

// Ior runs the IOR benchmark through an MPI launcher. In "container" deploy
// mode it also contributes the install fragment for the pipeline's shared
// image.
type Ior struct {
	pipeline.Base
}

func (r *Ior) ConfigureMenu() pipeline.Menu {
	return pipeline.Menu{
		{Name: "nprocs", Msg: "Total MPI processes", Type: pipeline.TypeInt, Default: 1},
		{Name: "ppn", Msg: "Processes per node", Type: pipeline.TypeInt, Default: 1},
		{Name: "api", Msg: "I/O backend", Type: pipeline.TypeString, Default: "POSIX",
			Choices: []string{"POSIX", "MPIIO", "HDF5"}},
		{Name: "xfer", Msg: "Transfer size per request", Type: pipeline.TypeString, Default: "1m"},
		{Name: "block", Msg: "Contiguous bytes per process", Type: pipeline.TypeString, Default: "1m"},
		{Name: "write", Msg: "Run the write phase", Type: pipeline.TypeBool, Default: true},
		{Name: "read", Msg: "Run the read phase", Type: pipeline.TypeBool, Default: true},
		{Name: "out", Msg: "Benchmark output file", Type: pipeline.TypeString, Default: "/tmp/ior/ior.bin"},
		{Name: "hostfile", Msg: "Hostfile for multi-node runs", Type: pipeline.TypeString, Default: ""},
	}
}

func (r *Ior) Configure(context.Context) error {
	if !r.ConfigBool("write") && !r.ConfigBool("read") {
		return fmt.Errorf("at least one of write/read must be enabled")
	}
	switch mode := r.DeployMode(); mode {
	case "default", "container":
	default:
		return fmt.Errorf("unsupported deploy mode %q", mode)
	}
	return nil
}

// command assembles the ior invocation from the validated config.
func (r *Ior) command() string {
	args := []string{"ior"}
	if r.ConfigBool("write") {
		args = append(args, "-w")
	}
	if r.ConfigBool("read") {
		args = append(args, "-r")
	}
	args = append(args,
		"-t", r.ConfigString("xfer"),
		"-b", r.ConfigString("block"),
		"-a", r.ConfigString("api"),
		"-k",
		"-o", r.ConfigString("out"),
	)
	return strings.Join(args, " ")
}

// Start runs the benchmark to completion; IOR is a one-shot workload, so
// there is nothing for Stop to join.
func (r *Ior) Start(ctx context.Context) error {
	out := r.ConfigString("out")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	info := shell.ExecInfo{
		Type:       shell.MPI,
		Nprocs:     r.ConfigInt("nprocs"),
		Ppn:        r.ConfigInt("ppn"),
		Env:        r.ModEnv,
		Timeout:    time.Duration(r.ConfigInt("timeout")) * time.Second,
		HideOutput: r.ConfigBool("hide_output"),
	}
	if path := r.ConfigString("hostfile"); path != "" {
		hf, err := hostfile.Load(path)
		if err != nil {
			return err
		}
		info.Hosts = hf.Hosts
	}
	_, err := shell.Run(ctx, r.command(), info)
	return err
}

func (r *Ior) Clean(context.Context) error {
	if err := os.Remove(r.ConfigString("out")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AugmentContainer contributes the IOR install layer to the pipeline's
// shared image.
func (r *Ior) AugmentContainer(spec *pipeline.ContainerSpec) (string, error) {
	lines := []string{
		"RUN apt-get update && \\",
		"    apt-get install -y --no-install-recommends ior mpich && \\",
		"    rm -rf /var/lib/apt/lists/*",
	}
	if spec.SSHPort > 0 {
		lines = append(lines, fmt.Sprintf("EXPOSE %d", spec.SSHPort))
	}
	return strings.Join(lines, "\n"), nil
}
