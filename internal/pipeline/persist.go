// File: internal/pipeline/persist.go
// Brief: Pipeline descriptor and environment persistence (YAML).

package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	descriptorFileName = "pipeline.yaml"
	envFileName        = "environment.yaml"
)

// pipelineFile is the persisted pipeline descriptor. Package and
// interceptor entries are flat maps: pkg_type/pkg_name plus the package's
// typed config fields inline, the same shape a hand-written pipeline script
// uses, so one parser serves both.
type pipelineFile struct {
	Name string `yaml:"name"`
	// Env optionally references a named environment; the environment
	// contents themselves are persisted separately so they can be rebuilt
	// without touching structure.
	Env string `yaml:"env,omitempty"`

	ContainerName       string   `yaml:"container_name,omitempty"`
	ContainerEngine     string   `yaml:"container_engine,omitempty"`
	ContainerBase       string   `yaml:"container_base,omitempty"`
	ContainerSSHPort    int      `yaml:"container_ssh_port,omitempty"`
	ContainerExtensions []string `yaml:"container_extensions,omitempty"`

	Pkgs         []map[string]any `yaml:"pkgs"`
	Interceptors []map[string]any `yaml:"interceptors,omitempty"`
}

func (p *Pipeline) dir() string {
	return p.settings.PipelineDir(p.Name)
}

func (p *Pipeline) descriptorPath() string {
	return filepath.Join(p.dir(), descriptorFileName)
}

func (p *Pipeline) envPath() string {
	return filepath.Join(p.dir(), envFileName)
}

// Save persists every package and interceptor through its own save, then
// writes the descriptor and environment files. A package save failure is
// surfaced but does not stop the remaining saves; persistence is not atomic
// across packages.
func (p *Pipeline) Save() error {
	if err := os.MkdirAll(p.dir(), 0o755); err != nil {
		return fmt.Errorf("create pipeline dir: %w", err)
	}
	var errs []error
	for _, entry := range p.allEntries() {
		if err := entry.inst.base().saveState(); err != nil {
			errs = append(errs, err)
		}
	}

	doc := pipelineFile{Name: p.Name, Env: p.EnvName}
	if p.Container != nil {
		doc.ContainerName = p.Container.Name
		doc.ContainerEngine = p.Container.Engine
		doc.ContainerBase = p.Container.BaseImage
		doc.ContainerSSHPort = p.Container.SSHPort
		doc.ContainerExtensions = p.Container.Extensions
	}
	for _, entry := range p.Packages {
		doc.Pkgs = append(doc.Pkgs, entry.toDef())
	}
	for _, id := range p.interceptorOrder {
		doc.Interceptors = append(doc.Interceptors, p.Interceptors[id].toDef())
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal pipeline %q: %w", p.Name, err)
	}
	if err := os.WriteFile(p.descriptorPath(), data, 0o644); err != nil {
		return fmt.Errorf("write pipeline %q: %w", p.Name, err)
	}
	if err := writeEnvFile(p.envPath(), p.Env); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// toDef flattens an entry back into descriptor form.
func (e *PackageEntry) toDef() map[string]any {
	def := map[string]any{"pkg_type": e.PkgType}
	if e.PkgID != e.PkgName {
		def["pkg_name"] = e.PkgID
	}
	for k, v := range e.Config {
		def[k] = v
	}
	return def
}

// readDescriptor loads and structurally validates a descriptor file.
func readDescriptor(path string) (*pipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	doc := &pipelineFile{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w: %v", path, ErrCorruptState, err)
	}
	for i, def := range append(append([]map[string]any{}, doc.Pkgs...), doc.Interceptors...) {
		if _, ok := def["pkg_type"].(string); !ok {
			return nil, fmt.Errorf("descriptor %s: entry %d lacks pkg_type: %w", path, i, ErrCorruptState)
		}
	}
	return doc, nil
}

// defIdentity extracts pkg_type, pkg_id, and the remaining config fields
// from one descriptor entry.
func defIdentity(def map[string]any) (pkgType, pkgID string, cfg map[string]any) {
	pkgType = def["pkg_type"].(string)
	short := pkgType
	if i := lastDot(pkgType); i >= 0 {
		short = pkgType[i+1:]
	}
	pkgID = short
	if name, ok := def["pkg_name"].(string); ok && name != "" {
		pkgID = name
	}
	cfg = map[string]any{}
	for k, v := range def {
		if k == "pkg_type" || k == "pkg_name" {
			continue
		}
		cfg[k] = v
	}
	return pkgType, pkgID, cfg
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

