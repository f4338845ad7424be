// File: internal/shell/mpi.go
// Brief: MPI launcher command construction.

package shell

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// startMPI renders an mpirun invocation and runs it through the local
// executor. The launcher process itself never sees LD_PRELOAD; it is passed
// per-rank via -genv so only application processes load interceptors.
func startMPI(ctx context.Context, cmd string, info ExecInfo) (Handle, error) {
	nprocs := info.Nprocs
	if nprocs <= 0 {
		nprocs = 1
	}
	parts := []string{"mpirun", "-n", fmt.Sprintf("%d", nprocs)}
	if info.Ppn > 0 {
		parts = append(parts, "-ppn", fmt.Sprintf("%d", info.Ppn))
	}
	if len(info.Hosts) > 0 {
		parts = append(parts, "--host", strings.Join(info.Hosts, ","))
	}
	keys := make([]string, 0, len(info.Env))
	for k := range info.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, "-genv", k, fmt.Sprintf("%q", info.Env[k]))
	}
	parts = append(parts, cmd)

	launcherInfo := info
	launcherInfo.Type = Local
	launcherInfo.Hosts = nil
	launcherInfo.Env = launcherEnv(info.Env)
	return startLocal(ctx, strings.Join(parts, " "), launcherInfo)
}

// launcherEnv is the environment of the mpirun process: the full command
// env minus LD_PRELOAD, which must only reach the ranks.
func launcherEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if k == "LD_PRELOAD" {
			continue
		}
		out[k] = v
	}
	return out
}
