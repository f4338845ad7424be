// File: internal/pipeline/container.go
// Brief: Container manifest, build-script augmentation, image builds.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/example/dpl/internal/shell"
)

// ContainerSpec describes the shared container image a pipeline deploys
// into. Manifest and build script are keyed by Name, not by pipeline, so
// pipelines naming the same container reuse one image.
type ContainerSpec struct {
	Name       string
	Engine     string
	BaseImage  string
	SSHPort    int
	Extensions []string
}

const defaultBaseImage = "ubuntu:24.04"

// Manifest records which package types, and under which deploy mode, are
// already baked into a container image. A pkg_type appears at most once.
type Manifest map[string]string

// ContainerStore owns the per-container-name manifest and build script
// under one directory.
type ContainerStore struct {
	Dir string
	Log *zap.SugaredLogger
}

func (s *ContainerStore) manifestPath(name string) string {
	return filepath.Join(s.Dir, name+".yaml")
}

func (s *ContainerStore) scriptPath(name string) string {
	return filepath.Join(s.Dir, name+".Dockerfile")
}

// LoadManifest reads the manifest for a container name; a missing file is
// an empty manifest.
func (s *ContainerStore) LoadManifest(name string) (Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("read manifest for container %q: %w", name, err)
	}
	m := Manifest{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest for container %q: %w: %v", name, ErrCorruptState, err)
	}
	return m, nil
}

func (s *ContainerStore) saveManifest(name string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(s.manifestPath(name), data, 0o644); err != nil {
		return fmt.Errorf("write manifest for container %q: %w", name, err)
	}
	return nil
}

// Augment installs one package type into the container image shared by
// spec.Name. The manifest is consulted first: an absent type calls aug for
// its build fragment, appends it to the script, and records the deploy
// mode; the same mode again is a no-op; a different mode is a hard
// DeployModeConflictError with the manifest left untouched.
func (s *ContainerStore) Augment(spec *ContainerSpec, pkgType, deployMode string, aug ContainerAugmenter) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create containers dir: %w", err)
	}
	manifest, err := s.LoadManifest(spec.Name)
	if err != nil {
		return err
	}
	if existing, ok := manifest[pkgType]; ok {
		if existing == deployMode {
			s.Log.Debugw("container already augmented",
				"container", spec.Name, "pkg_type", pkgType, "deploy_mode", deployMode)
			return nil
		}
		return &DeployModeConflictError{
			Container: spec.Name,
			PkgType:   pkgType,
			Existing:  existing,
			Requested: deployMode,
		}
	}

	if err := s.ensureScript(spec); err != nil {
		return err
	}
	fragment, err := aug.AugmentContainer(spec)
	if err != nil {
		return fmt.Errorf("augment container %q with %s: %w", spec.Name, pkgType, err)
	}
	if strings.TrimSpace(fragment) != "" {
		if err := s.appendFragment(spec.Name, pkgType, deployMode, fragment); err != nil {
			return err
		}
	}
	manifest[pkgType] = deployMode
	if err := s.saveManifest(spec.Name, manifest); err != nil {
		return err
	}
	s.Log.Infow("container augmented",
		"container", spec.Name, "pkg_type", pkgType, "deploy_mode", deployMode)
	return nil
}

// ensureScript lazily creates the build script with its base-image
// directive on the first containerized package.
func (s *ContainerStore) ensureScript(spec *ContainerSpec) error {
	path := s.scriptPath(spec.Name)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat build script %s: %w", path, err)
	}
	base := spec.BaseImage
	if base == "" {
		base = defaultBaseImage
	}
	header := fmt.Sprintf("FROM %s\n\nARG DEBIAN_FRONTEND=noninteractive\n", base)
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("write build script for container %q: %w", spec.Name, err)
	}
	return nil
}

func (s *ContainerStore) appendFragment(name, pkgType, deployMode, fragment string) error {
	f, err := os.OpenFile(s.scriptPath(name), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open build script for container %q: %w", name, err)
	}
	defer f.Close()
	block := fmt.Sprintf("\n# %s (%s)\n%s\n", pkgType, deployMode, strings.TrimSpace(fragment))
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append to build script for container %q: %w", name, err)
	}
	return nil
}

// Build runs "<engine> build" against the container's script. Called as a
// side effect of configure/load, never of start.
func (s *ContainerStore) Build(ctx context.Context, spec *ContainerSpec) error {
	engine := spec.Engine
	if engine == "" {
		engine = "docker"
	}
	cmd := fmt.Sprintf("%s build -t %s -f %s %s", engine, spec.Name, s.scriptPath(spec.Name), s.Dir)
	s.Log.Infow("building container image", "container", spec.Name, "engine", engine)
	if _, err := shell.Run(ctx, cmd, shell.ExecInfo{Type: shell.Local}); err != nil {
		return fmt.Errorf("build container %q: %w", spec.Name, err)
	}
	return nil
}

// ContainerInfo is one row of the container listing.
type ContainerInfo struct {
	Name      string
	Packages  int
	HasScript bool
}

// List enumerates persisted containers.
func (s *ContainerStore) List() ([]ContainerInfo, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read containers dir: %w", err)
	}
	var out []ContainerInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		manifest, err := s.LoadManifest(name)
		if err != nil {
			return nil, err
		}
		_, statErr := os.Stat(s.scriptPath(name))
		out = append(out, ContainerInfo{
			Name:      name,
			Packages:  len(manifest),
			HasScript: statErr == nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes a container's manifest and build script and asks the
// engine, best-effort, to remove the image.
func (s *ContainerStore) Remove(ctx context.Context, name, engine string) error {
	found := false
	for _, path := range []string{s.manifestPath(name), s.scriptPath(name)} {
		if err := os.Remove(path); err == nil {
			found = true
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	if !found {
		return fmt.Errorf("container %q: %w", name, ErrNotFound)
	}
	if engine != "" {
		cmd := fmt.Sprintf("%s rmi %s", engine, name)
		if _, err := shell.Run(ctx, cmd, shell.ExecInfo{Type: shell.Local, HideOutput: true}); err != nil {
			s.Log.Warnw("could not remove container image", "container", name, "err", err)
		}
	}
	return nil
}
