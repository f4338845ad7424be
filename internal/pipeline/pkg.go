// File: internal/pipeline/pkg.go
// Brief: Package model: lifecycle interface, Base embedding, env setters.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// State is one point in a package's lifecycle.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateConfigured   State = "configured"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
	StateDestroyed    State = "destroyed"
)

// StatusUnknown is reported by packages without meaningful status so a
// status query never fails on them.
const StatusUnknown = "unknown"

// Pkg is one deployable unit in a pipeline. Concrete types embed Base,
// which supplies defaults for everything except the package-specific menu
// and configure hook. The unexported base accessor seals the interface to
// types that embed Base.
type Pkg interface {
	base() *Base

	// ConfigureMenu declares the package-specific parameters. The common
	// parameter set (sleep, do_dbg, dbg_port, deploy_mode, interceptors,
	// timeout, hide_output) is prepended by Menu(); implementations never
	// redeclare it.
	ConfigureMenu() Menu

	// Configure applies validated config: environment exports, generated
	// config files, whatever the package needs before start. Config has
	// already been cast and merged into Base.Config when this runs.
	Configure(ctx context.Context) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Kill(ctx context.Context) error
	Clean(ctx context.Context) error
	Status(ctx context.Context) (string, error)
}

// Interceptor is a package specialization with no start/stop lifecycle. Its
// single hook mutates a target package's private ModEnv in place, just
// before the target starts.
type Interceptor interface {
	Pkg
	ModifyEnv(mod Env) error
}

// ContainerAugmenter is implemented by package types that can install
// themselves into a shared container image. AugmentContainer returns the
// build-script fragment for the package's current deploy mode.
type ContainerAugmenter interface {
	AugmentContainer(spec *ContainerSpec) (string, error)
}

// Base carries the state every package shares. Concrete types embed it and
// override the lifecycle methods they need; the rest default to no-ops
// suitable for one-shot packages.
type Base struct {
	PkgID    string
	PkgType  string
	GlobalID string

	// Config is the validated typed configuration, common parameters
	// included.
	Config map[string]any

	// Env is this package's view of the pipeline's shared environment at
	// configure time. Setters update it and the controller propagates it
	// forward to later packages. It never carries LD_PRELOAD.
	Env Env

	// ModEnv is exclusively owned: a value copy of Env that may
	// additionally carry LD_PRELOAD and interceptor-introduced keys. It
	// never propagates.
	ModEnv Env

	ConfigDir  string
	SharedDir  string
	PrivateDir string

	State State
	Log   *zap.SugaredLogger
}

func (b *Base) base() *Base { return b }

// Default lifecycle: nothing to configure, start is abstract in spirit but
// a no-op here so interceptors and inert packages embed cleanly; stop and
// kill are no-ops for one-shot packages; status is the unknown sentinel.

func (b *Base) ConfigureMenu() Menu                  { return nil }
func (b *Base) Configure(context.Context) error      { return nil }
func (b *Base) Start(context.Context) error          { return nil }
func (b *Base) Stop(context.Context) error           { return nil }
func (b *Base) Kill(context.Context) error           { return nil }
func (b *Base) Clean(context.Context) error          { return nil }
func (b *Base) Status(context.Context) (string, error) { return StatusUnknown, nil }

// FullMenu returns the full configuration menu for p: the package-specific
// fragment plus the shared common parameter set, so every package carries
// sleep/do_dbg/dbg_port/deploy_mode/interceptors without redeclaring them.
func FullMenu(p Pkg) Menu {
	return append(append(Menu{}, p.ConfigureMenu()...), commonMenu()...)
}

// SetEnv sets an environment variable. LD_PRELOAD is routed to ModEnv only;
// everything else lands in Env (visible to later packages) and mirrors into
// ModEnv.
func (b *Base) SetEnv(name, val string) {
	if name == ldPreload {
		b.ModEnv[name] = val
		return
	}
	b.Env[name] = val
	b.ModEnv[name] = val
}

// PrependEnv prepends val to a colon-separated environment variable,
// following the same LD_PRELOAD routing as SetEnv. Prepending is idempotent:
// a value already present is not added again, so chained interceptors never
// duplicate a library path.
func (b *Base) PrependEnv(name, val string) {
	if name == ldPreload {
		b.ModEnv[name] = prependPath(b.ModEnv[name], val)
		return
	}
	b.Env[name] = prependPath(b.Env[name], val)
	b.ModEnv[name] = b.Env[name]
}

func prependPath(current, val string) string {
	if current == "" {
		return val
	}
	for _, part := range strings.Split(current, ":") {
		if part == val {
			return current
		}
	}
	return val + ":" + current
}

// GetEnv reads from ModEnv first, then Env.
func (b *Base) GetEnv(name string) string {
	if v, ok := b.ModEnv[name]; ok {
		return v
	}
	return b.Env[name]
}

// Sleep pauses for the package's configured post-start settle time.
func (b *Base) Sleep(ctx context.Context) {
	secs := b.ConfigInt("sleep")
	if secs <= 0 {
		return
	}
	b.Log.Infow("sleeping", "pkg", b.GlobalID, "seconds", secs)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(secs) * time.Second):
	}
}

// Typed config accessors. Missing keys return zero values; configure-time
// defaults normally guarantee presence.

func (b *Base) ConfigString(key string) string {
	if v, ok := b.Config[key].(string); ok {
		return v
	}
	return ""
}

func (b *Base) ConfigInt(key string) int {
	switch v := b.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (b *Base) ConfigBool(key string) bool {
	if v, ok := b.Config[key].(bool); ok {
		return v
	}
	return false
}

func (b *Base) ConfigStringSlice(key string) []string {
	switch v := b.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// DeployMode returns the package's configured deploy mode, defaulting to
// "default".
func (b *Base) DeployMode() string {
	if mode := b.ConfigString("deploy_mode"); mode != "" {
		return mode
	}
	return "default"
}

// FindLibrary resolves a logical library name against ModEnv/Env
// LD_LIBRARY_PATH, the process LD_LIBRARY_PATH, and system library
// directories, trying lib<name>.so, <name>.so, lib<name>.a, then the exact
// name. It returns "" when nothing matches; disposition is the caller's.
func (b *Base) FindLibrary(name string) string {
	candidates := []string{
		"lib" + name + ".so",
		name + ".so",
		"lib" + name + ".a",
		name,
	}
	var dirs []string
	for _, path := range []string{b.ModEnv["LD_LIBRARY_PATH"], b.Env["LD_LIBRARY_PATH"], os.Getenv("LD_LIBRARY_PATH")} {
		if path != "" {
			dirs = append(dirs, strings.Split(path, ":")...)
		}
	}
	dirs = append(dirs,
		"/usr/lib", "/usr/local/lib", "/usr/lib64", "/usr/local/lib64", "/lib", "/lib64")
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, file := range candidates {
			full := filepath.Join(dir, file)
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				return full
			}
		}
	}
	return ""
}

// CopyTemplate materializes a template file into the package tree,
// replacing ##TOKEN## markers with the given values.
func (b *Base) CopyTemplate(src, dst string, replacements map[string]string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read template %s: %w", src, err)
	}
	content := string(data)
	for key, val := range replacements {
		content = strings.ReplaceAll(content, "##"+key+"##", val)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// ensureDirs creates the package's config/shared/private working subtree.
func (b *Base) ensureDirs() error {
	for _, dir := range []string{b.ConfigDir, b.SharedDir, b.PrivateDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create package dir %s: %w", dir, err)
		}
	}
	return nil
}

// saveState persists config.yaml, env.yaml, and mod_env.yaml into the
// package's config directory.
func (b *Base) saveState() error {
	if b.ConfigDir == "" {
		return fmt.Errorf("%s: no config directory set", b.GlobalID)
	}
	if err := b.ensureDirs(); err != nil {
		return err
	}
	cfg, err := yaml.Marshal(b.Config)
	if err != nil {
		return fmt.Errorf("%s: marshal config: %w", b.GlobalID, err)
	}
	if err := os.WriteFile(filepath.Join(b.ConfigDir, "config.yaml"), cfg, 0o644); err != nil {
		return fmt.Errorf("%s: write config: %w", b.GlobalID, err)
	}
	if err := writeEnvFile(filepath.Join(b.ConfigDir, "env.yaml"), b.Env); err != nil {
		return fmt.Errorf("%s: %w", b.GlobalID, err)
	}
	if err := writeEnvFile(filepath.Join(b.ConfigDir, "mod_env.yaml"), b.ModEnv); err != nil {
		return fmt.Errorf("%s: %w", b.GlobalID, err)
	}
	return nil
}

// loadState restores persisted config and environments, if present.
func (b *Base) loadState() error {
	cfgPath := filepath.Join(b.ConfigDir, "config.yaml")
	if data, err := os.ReadFile(cfgPath); err == nil {
		saved := map[string]any{}
		if err := yaml.Unmarshal(data, &saved); err != nil {
			return fmt.Errorf("%s: %w: %v", b.GlobalID, ErrCorruptState, err)
		}
		for k, v := range saved {
			b.Config[k] = v
		}
	}
	if env, err := readEnvFile(filepath.Join(b.ConfigDir, "env.yaml")); err == nil {
		b.Env.Merge(env)
	}
	if mod, err := readEnvFile(filepath.Join(b.ConfigDir, "mod_env.yaml")); err == nil {
		for k, v := range mod {
			b.ModEnv[k] = v
		}
	}
	return nil
}

// destroyTree removes the package's private working subtree. The shared
// package-source assets (compiled-in templates) survive repeated
// create/destroy cycles.
func (b *Base) destroyTree() error {
	root := filepath.Dir(b.ConfigDir)
	if root == "" || root == "." || root == "/" {
		return nil
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("%s: remove package tree %s: %w", b.GlobalID, root, err)
	}
	b.State = StateDestroyed
	return nil
}
