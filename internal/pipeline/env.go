// File: internal/pipeline/env.go
// Brief: Environment maps, capture, ${NAME} expansion, named environments.

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env is a string-to-string environment mapping. Pipelines hold one shared
// Env; every package gets its own forward-propagating view plus a private
// ModEnv copy. Copies are always value copies so a runtime mutation in one
// package can never leak into a sibling.
type Env map[string]string

// Copy returns an independent value copy.
func (e Env) Copy() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// WithoutPreload returns a copy with LD_PRELOAD removed. The shared
// pipeline environment must never carry LD_PRELOAD; it exists only inside a
// package's ModEnv.
func (e Env) WithoutPreload() Env {
	out := e.Copy()
	delete(out, ldPreload)
	return out
}

// Merge copies every key from src into e, keeping the LD_PRELOAD invariant.
func (e Env) Merge(src Env) {
	for k, v := range src {
		if k == ldPreload {
			continue
		}
		e[k] = v
	}
}

// Expand resolves ${NAME} references inside values against the map itself,
// falling back to the process environment. Resolution happens once, at load
// time; values are not re-resolved per read.
func (e Env) Expand() {
	for k, v := range e {
		e[k] = os.Expand(v, func(name string) string {
			if val, ok := e[name]; ok {
				return val
			}
			return os.Getenv(name)
		})
	}
}

const ldPreload = "LD_PRELOAD"

// commonEnvVars is the set of variables captured from the calling process
// when a pipeline has no named environment: build-system, include, library,
// runtime, and compiler variables that deployments commonly depend on.
var commonEnvVars = []string{
	"CMAKE_MODULE_PATH", "CMAKE_PREFIX_PATH", "PKG_CONFIG_PATH",
	"CPATH", "C_INCLUDE_PATH", "CPLUS_INCLUDE_PATH", "INCLUDE_PATH",
	"LD_LIBRARY_PATH", "LIBRARY_PATH", "DYLD_LIBRARY_PATH",
	"PATH", "MANPATH",
	"PYTHONPATH", "PERL5LIB", "CLASSPATH", "GOPATH", "TCLLIBPATH",
	"JAVA_HOME",
	"CC", "CXX", "FC", "F77", "F90",
	"MPICC", "MPICXX", "MPIFC", "MPIF77", "MPIF90",
	"CFLAGS", "CXXFLAGS", "FFLAGS", "LDFLAGS", "LIBS",
	"HOME", "USER",
}

// CaptureEnv snapshots the current process environment filtered to the
// common variable set. LD_PRELOAD is deliberately absent from capture.
func CaptureEnv() Env {
	env := Env{}
	for _, key := range commonEnvVars {
		if val, ok := os.LookupEnv(key); ok {
			env[key] = val
		}
	}
	return env
}

// BuildNamedEnv captures the current environment, applies VAR=value
// overrides, and persists the result under dir as a reusable named
// environment.
func BuildNamedEnv(dir, name string, overrides []string) (Env, error) {
	env := CaptureEnv()
	for _, arg := range overrides {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment override %q (expected VAR=value)", arg)
		}
		if key == ldPreload {
			return nil, fmt.Errorf("%s cannot be stored in a shared environment", ldPreload)
		}
		env[key] = val
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create env dir: %w", err)
	}
	if err := writeEnvFile(namedEnvPath(dir, name), env); err != nil {
		return nil, err
	}
	return env, nil
}

// LoadNamedEnv reads a named environment and expands ${NAME} references.
func LoadNamedEnv(dir, name string) (Env, error) {
	env, err := readEnvFile(namedEnvPath(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("environment %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	env = env.WithoutPreload()
	env.Expand()
	return env, nil
}

// ListNamedEnvs returns the names of all persisted environments, sorted.
func ListNamedEnvs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read env dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// RemoveNamedEnv deletes a named environment.
func RemoveNamedEnv(dir, name string) error {
	if err := os.Remove(namedEnvPath(dir, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("environment %q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("remove environment %q: %w", name, err)
	}
	return nil
}

func namedEnvPath(dir, name string) string {
	return filepath.Join(dir, name+".yaml")
}

func writeEnvFile(path string, env Env) error {
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write environment %s: %w", path, err)
	}
	return nil
}

func readEnvFile(path string) (Env, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	env := Env{}
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("environment %s: %w: %v", path, ErrCorruptState, err)
	}
	return env, nil
}
