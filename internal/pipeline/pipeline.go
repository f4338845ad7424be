// File: internal/pipeline/pipeline.go
// Brief: Pipeline controller: create/load/save/destroy and lifecycle ops.

// Package pipeline is the orchestration core: ordered packages with a
// per-package lifecycle state machine, a forward-propagating shared
// environment, interceptor composition over private execution environments,
// and incremental container-image augmentation shared across pipelines.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/example/dpl/internal/config"
)

// PackageEntry is one package or interceptor slot in a pipeline: identity,
// validated config, and the constructed instance.
type PackageEntry struct {
	PkgType  string
	PkgID    string
	PkgName  string // short type name ("ior" for "builtin.ior")
	GlobalID string
	Config   map[string]any

	inst Pkg
}

// State reports the entry's lifecycle state.
func (e *PackageEntry) State() State { return e.inst.base().State }

// ModEnv exposes the entry's private execution environment, for inspection.
func (e *PackageEntry) ModEnv() Env { return e.inst.base().ModEnv }

// Pipeline is a named, ordered collection of packages and interceptors with
// a shared environment and an optional container descriptor. All operations
// run on the caller's goroutine; packages are configured, started, and
// stopped strictly in declared order.
type Pipeline struct {
	Name string
	// Packages in insertion order; insertion order is execution order and
	// is preserved across load/save.
	Packages []*PackageEntry
	// Interceptors by ID. interceptorOrder keeps descriptor order, which
	// affects only persistence layout; composition order per package comes
	// from that package's interceptors list.
	Interceptors     map[string]*PackageEntry
	interceptorOrder []string

	// Env is the shared environment. Never carries LD_PRELOAD.
	Env Env
	// EnvName optionally names the persisted environment Env was seeded
	// from.
	EnvName string

	Container *ContainerSpec

	settings *config.Settings
	store    *ContainerStore
	log      *zap.SugaredLogger
}

// PkgStatus is one row of a status query.
type PkgStatus struct {
	PkgID   string
	PkgType string
	State   State
	Status  string
}

func newPipeline(settings *config.Settings, log *zap.Logger, name string) *Pipeline {
	sugar := log.Sugar()
	return &Pipeline{
		Name:         name,
		Interceptors: map[string]*PackageEntry{},
		Env:          Env{},
		settings:     settings,
		store:        &ContainerStore{Dir: settings.ContainersDir(), Log: sugar},
		log:          sugar,
	}
}

// Create allocates a new, empty pipeline and persists it. Fails with
// ErrAlreadyExists when the name is taken.
func Create(settings *config.Settings, log *zap.Logger, name string) (*Pipeline, error) {
	p := newPipeline(settings, log, name)
	if _, err := os.Stat(p.descriptorPath()); err == nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, ErrAlreadyExists)
	}
	p.Env = CaptureEnv()
	if err := p.Save(); err != nil {
		return nil, err
	}
	if err := settings.SetCurrentPipeline(name); err != nil {
		return nil, err
	}
	p.log.Infow("created pipeline", "pipeline", name, "dir", p.dir())
	return p, nil
}

// Open reconstructs a persisted pipeline: every package and interceptor is
// rebuilt through its own load, then the shared environment is read and
// expanded.
func Open(settings *config.Settings, log *zap.Logger, name string) (*Pipeline, error) {
	p := newPipeline(settings, log, name)
	doc, err := readDescriptor(p.descriptorPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	if err := p.restoreEnv(doc.Env); err != nil {
		return nil, err
	}
	if err := p.populate(doc, true); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile materializes a pipeline from a script descriptor: environment
// seeding, entry construction, full configuration (including container
// augmentation), persistence, and selection as the current pipeline.
func LoadFile(ctx context.Context, settings *config.Settings, log *zap.Logger, path string) (*Pipeline, error) {
	doc, err := readDescriptor(path)
	if err != nil {
		return nil, err
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("descriptor %s: missing pipeline name: %w", path, ErrCorruptState)
	}
	p := newPipeline(settings, log, doc.Name)
	if err := p.seedEnv(doc.Env); err != nil {
		return nil, err
	}
	if err := p.populate(doc, false); err != nil {
		return nil, err
	}
	if err := p.Configure(ctx); err != nil {
		return nil, err
	}
	if err := p.Save(); err != nil {
		return nil, err
	}
	if err := settings.SetCurrentPipeline(p.Name); err != nil {
		return nil, err
	}
	p.log.Infow("loaded pipeline", "pipeline", p.Name, "packages", len(p.Packages))
	return p, nil
}

// populate builds entries for every descriptor definition. When restore is
// set, per-package persisted state is merged in through each entry's own
// load.
func (p *Pipeline) populate(doc *pipelineFile, restore bool) error {
	if doc.ContainerName != "" {
		p.Container = &ContainerSpec{
			Name:       doc.ContainerName,
			Engine:     doc.ContainerEngine,
			BaseImage:  doc.ContainerBase,
			SSHPort:    doc.ContainerSSHPort,
			Extensions: doc.ContainerExtensions,
		}
		if p.Container.Engine == "" {
			p.Container.Engine = p.settings.ContainerEngine
		}
	}
	for _, def := range doc.Interceptors {
		entry, err := p.buildEntry(def, restore)
		if err != nil {
			return err
		}
		if _, ok := entry.inst.(Interceptor); !ok {
			return fmt.Errorf("%s: %s is not an interceptor type", entry.GlobalID, entry.PkgType)
		}
		if err := p.checkUniqueID(entry.PkgID); err != nil {
			return err
		}
		p.Interceptors[entry.PkgID] = entry
		p.interceptorOrder = append(p.interceptorOrder, entry.PkgID)
	}
	for _, def := range doc.Pkgs {
		entry, err := p.buildEntry(def, restore)
		if err != nil {
			return err
		}
		if err := p.checkUniqueID(entry.PkgID); err != nil {
			return err
		}
		p.Packages = append(p.Packages, entry)
	}
	return nil
}

func (p *Pipeline) checkUniqueID(pkgID string) error {
	if _, ok := p.Interceptors[pkgID]; ok {
		return fmt.Errorf("pipeline %q: duplicate package id %q: %w", p.Name, pkgID, ErrAlreadyExists)
	}
	for _, entry := range p.Packages {
		if entry.PkgID == pkgID {
			return fmt.Errorf("pipeline %q: duplicate package id %q: %w", p.Name, pkgID, ErrAlreadyExists)
		}
	}
	return nil
}

// buildEntry constructs one entry from a descriptor definition: type
// resolution, instance construction, config casting, defaults.
func (p *Pipeline) buildEntry(def map[string]any, restore bool) (*PackageEntry, error) {
	pkgType, pkgID, rawCfg := defIdentity(def)
	fullType, err := ResolveType(pkgType)
	if err != nil {
		return nil, err
	}
	entry := &PackageEntry{
		PkgType:  fullType,
		PkgID:    pkgID,
		PkgName:  fullType[lastDot(fullType)+1:],
		GlobalID: p.Name + "." + pkgID,
		Config:   map[string]any{},
	}
	inst, err := newPkg(fullType)
	if err != nil {
		return nil, err
	}
	entry.inst = inst
	p.initBase(entry)

	menu := FullMenu(inst)
	cast, err := menu.Cast(rawCfg)
	if err != nil {
		return nil, attribute(err, entry.GlobalID)
	}
	for k, v := range cast {
		entry.Config[k] = v
	}
	menu.ApplyDefaults(entry.Config)
	if restore {
		if err := inst.base().loadState(); err != nil {
			return nil, err
		}
		inst.base().State = StateConfigured
	}
	return entry, nil
}

func (p *Pipeline) initBase(entry *PackageEntry) {
	b := entry.inst.base()
	b.PkgID = entry.PkgID
	b.PkgType = entry.PkgType
	b.GlobalID = entry.GlobalID
	b.Config = entry.Config
	b.State = StateUnconfigured
	b.Log = p.log
	pkgDir := p.settings.PackageDir(p.Name, entry.PkgID)
	b.ConfigDir = filepath.Join(pkgDir, "config")
	b.SharedDir = filepath.Join(pkgDir, "shared")
	b.PrivateDir = filepath.Join(pkgDir, "private")
	p.refreshEnv(entry)
}

// refreshEnv rebuilds the entry's environment views from the pipeline's
// shared environment: Env is a fresh forward-propagating copy (LD_PRELOAD
// stripped), ModEnv an independent value copy of that.
func (p *Pipeline) refreshEnv(entry *PackageEntry) {
	b := entry.inst.base()
	b.Env = p.Env.WithoutPreload()
	b.ModEnv = b.Env.Copy()
}

// seedEnv initializes the shared environment for a fresh load: a named
// environment when referenced, otherwise a capture of the current process
// environment.
func (p *Pipeline) seedEnv(envName string) error {
	p.EnvName = envName
	if envName == "" {
		p.Env = CaptureEnv()
		return nil
	}
	env, err := LoadNamedEnv(p.settings.EnvDir(), envName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p.log.Warnw("named environment missing; capturing current environment",
				"pipeline", p.Name, "env", envName)
			p.Env = CaptureEnv()
			return nil
		}
		return err
	}
	p.Env = env
	return nil
}

// restoreEnv rebuilds the shared environment when opening a persisted
// pipeline, expanding ${NAME} references exactly once.
func (p *Pipeline) restoreEnv(envName string) error {
	p.EnvName = envName
	env, err := readEnvFile(p.envPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		return p.seedEnv(envName)
	}
	p.Env = env.WithoutPreload()
	p.Env.Expand()
	return nil
}

// Append validates a package type, constructs and configures an instance,
// and adds it to the pipeline. The entry is persisted only after its
// configure hook succeeds; a failed append leaves the pipeline untouched.
func (p *Pipeline) Append(ctx context.Context, typeSpec, alias string, raw map[string]any) (*PackageEntry, error) {
	fullType, err := ResolveType(typeSpec)
	if err != nil {
		return nil, err
	}
	short := fullType[lastDot(fullType)+1:]
	pkgID := short
	if alias != "" {
		pkgID = alias
	}
	if err := p.checkUniqueID(pkgID); err != nil {
		return nil, err
	}
	def := map[string]any{"pkg_type": fullType, "pkg_name": pkgID}
	for k, v := range raw {
		def[k] = v
	}
	entry, err := p.buildEntry(def, false)
	if err != nil {
		return nil, err
	}
	if err := p.configureEntry(ctx, entry, nil); err != nil {
		// Failed appends leave no trace: the working subtree created for
		// the configure attempt goes away with the entry.
		_ = entry.inst.base().destroyTree()
		return nil, err
	}
	if _, ok := entry.inst.(Interceptor); ok {
		p.Interceptors[entry.PkgID] = entry
		p.interceptorOrder = append(p.interceptorOrder, entry.PkgID)
	} else {
		p.Packages = append(p.Packages, entry)
	}
	if err := p.Save(); err != nil {
		return nil, err
	}
	p.log.Infow("appended package", "pipeline", p.Name, "pkg", entry.GlobalID, "type", fullType)
	return entry, nil
}

// Rm destroys a package's working subtree and removes it from the
// pipeline.
func (p *Pipeline) Rm(ctx context.Context, pkgID string) error {
	if entry, ok := p.Interceptors[pkgID]; ok {
		_ = entry.inst.Clean(ctx)
		if err := entry.inst.base().destroyTree(); err != nil {
			p.log.Warnw("package tree removal failed", "pkg", entry.GlobalID, "err", err)
		}
		delete(p.Interceptors, pkgID)
		for i, id := range p.interceptorOrder {
			if id == pkgID {
				p.interceptorOrder = append(p.interceptorOrder[:i], p.interceptorOrder[i+1:]...)
				break
			}
		}
		return p.Save()
	}
	for i, entry := range p.Packages {
		if entry.PkgID != pkgID {
			continue
		}
		_ = entry.inst.Clean(ctx)
		if err := entry.inst.base().destroyTree(); err != nil {
			p.log.Warnw("package tree removal failed", "pkg", entry.GlobalID, "err", err)
		}
		p.Packages = append(p.Packages[:i], p.Packages[i+1:]...)
		return p.Save()
	}
	return fmt.Errorf("pipeline %q: package %q: %w", p.Name, pkgID, ErrNotFound)
}

// Configure runs the configure flow for every interceptor and package, in
// order, and persists the result. Earlier packages configured in the same
// batch are not rolled back when a later one fails.
func (p *Pipeline) Configure(ctx context.Context) error {
	for _, id := range p.interceptorOrder {
		if err := p.configureEntry(ctx, p.Interceptors[id], nil); err != nil {
			return err
		}
	}
	for _, entry := range p.Packages {
		if err := p.configureEntry(ctx, entry, nil); err != nil {
			return err
		}
	}
	return p.Save()
}

// ConfigurePkg reconfigures one package with new raw option values
// (partial update) and persists the pipeline.
func (p *Pipeline) ConfigurePkg(ctx context.Context, pkgID string, raw map[string]any) error {
	entry := p.find(pkgID)
	if entry == nil {
		return fmt.Errorf("pipeline %q: package %q: %w", p.Name, pkgID, ErrNotFound)
	}
	if err := p.configureEntry(ctx, entry, raw); err != nil {
		return err
	}
	return p.Save()
}

// configureEntry casts raw options through the menu, merges them as a
// partial update, runs the configure hook, and handles container
// augmentation when the deploy mode is containerized. A hook failure
// leaves the package unconfigured.
func (p *Pipeline) configureEntry(ctx context.Context, entry *PackageEntry, raw map[string]any) error {
	b := entry.inst.base()
	menu := FullMenu(entry.inst)
	if raw != nil {
		cast, err := menu.Cast(raw)
		if err != nil {
			return attribute(err, entry.GlobalID)
		}
		for k, v := range cast {
			entry.Config[k] = v
		}
	}
	menu.ApplyDefaults(entry.Config)
	if err := menu.CheckRequired(entry.Config); err != nil {
		return attribute(err, entry.GlobalID)
	}

	p.log.Infow("configure begin", "pkg", entry.GlobalID, "type", entry.PkgType)
	p.refreshEnv(entry)
	if err := b.ensureDirs(); err != nil {
		return err
	}
	if err := entry.inst.Configure(ctx); err != nil {
		b.State = StateUnconfigured
		return fmt.Errorf("%s: configure: %w", entry.GlobalID, err)
	}
	// A non-default mode is containerized only when the type takes part in
	// image assembly. Package-defined variants (baremetal, spack, ...) stay
	// host-level and need no descriptor.
	if mode := b.DeployMode(); mode != "default" {
		if aug, ok := entry.inst.(ContainerAugmenter); ok {
			if p.Container == nil {
				return &ConfigValidationError{
					GlobalID: entry.GlobalID,
					Field:    "deploy_mode",
					Reason:   fmt.Sprintf("mode %q needs a container descriptor on the pipeline", mode),
				}
			}
			if err := p.store.Augment(p.Container, entry.PkgType, mode, aug); err != nil {
				return err
			}
		}
	}
	b.State = StateConfigured
	p.Env.Merge(b.Env)
	p.log.Infow("configure end", "pkg", entry.GlobalID)
	return nil
}

// Start starts every package in declared order. For each package the
// interceptors it names are resolved against the pipeline mapping and
// applied to its private ModEnv, in list order, strictly before its start.
// A start failure surfaces immediately and leaves earlier packages
// running; the operator stops them explicitly.
func (p *Pipeline) Start(ctx context.Context) error {
	p.log.Infow("starting pipeline", "pipeline", p.Name)
	for _, entry := range p.Packages {
		b := entry.inst.base()
		p.log.Infow("start begin", "pkg", entry.GlobalID, "type", entry.PkgType)
		p.refreshEnv(entry)
		if err := p.applyInterceptors(entry); err != nil {
			return err
		}
		if err := entry.inst.Start(ctx); err != nil {
			return &ExecutionError{GlobalID: entry.GlobalID, Op: "start", Cause: err}
		}
		b.State = StateRunning
		p.Env.Merge(b.Env)
		b.Sleep(ctx)
		p.log.Infow("start end", "pkg", entry.GlobalID)
	}
	return nil
}

// applyInterceptors threads one mutable handle to the target's ModEnv
// through the target's interceptor list, in declared order. Resolution
// happens here, at start time, so declaration order between packages and
// interceptors in the descriptor is irrelevant.
func (p *Pipeline) applyInterceptors(entry *PackageEntry) error {
	b := entry.inst.base()
	names := b.ConfigStringSlice("interceptors")
	for _, name := range names {
		ientry, ok := p.Interceptors[name]
		if !ok {
			return fmt.Errorf("%s: interceptor %q: %w", entry.GlobalID, name, ErrNotFound)
		}
		icept, ok := ientry.inst.(Interceptor)
		if !ok {
			return fmt.Errorf("%s: %q does not modify environments", entry.GlobalID, name)
		}
		ib := ientry.inst.base()
		// The interceptor operates on the target's environments: Env for
		// forward-propagating exports, ModEnv as the shared mutable handle.
		ib.Env = b.Env
		ib.ModEnv = b.ModEnv
		p.log.Infow("modify_env begin", "pkg", entry.GlobalID, "interceptor", ientry.GlobalID)
		if err := icept.ModifyEnv(b.ModEnv); err != nil {
			return &ExecutionError{GlobalID: ientry.GlobalID, Op: "modify_env", Cause: err}
		}
		p.log.Infow("modify_env end", "pkg", entry.GlobalID, "interceptor", ientry.GlobalID)
	}
	return nil
}

// Stop stops packages in reverse order, tearing downstream consumers down
// before upstream producers. Failures are collected, not short-circuited.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.log.Infow("stopping pipeline", "pipeline", p.Name)
	var errs []error
	for i := len(p.Packages) - 1; i >= 0; i-- {
		entry := p.Packages[i]
		p.log.Infow("stop begin", "pkg", entry.GlobalID, "type", entry.PkgType)
		if err := entry.inst.Stop(ctx); err != nil {
			errs = append(errs, &ExecutionError{GlobalID: entry.GlobalID, Op: "stop", Cause: err})
			continue
		}
		entry.inst.base().State = StateStopped
		p.log.Infow("stop end", "pkg", entry.GlobalID)
	}
	return errors.Join(errs...)
}

// Kill forcefully terminates packages in reverse order, without graceful
// shutdown.
func (p *Pipeline) Kill(ctx context.Context) error {
	p.log.Infow("killing pipeline", "pipeline", p.Name)
	var errs []error
	for i := len(p.Packages) - 1; i >= 0; i-- {
		entry := p.Packages[i]
		if err := entry.inst.Kill(ctx); err != nil {
			errs = append(errs, &ExecutionError{GlobalID: entry.GlobalID, Op: "kill", Cause: err})
			continue
		}
		entry.inst.base().State = StateStopped
	}
	return errors.Join(errs...)
}

// Status collects a per-package status row, forward order. A package
// lacking meaningful status reports the unknown sentinel; the query itself
// never fails on one package.
func (p *Pipeline) Status(ctx context.Context) []PkgStatus {
	out := make([]PkgStatus, 0, len(p.Packages))
	for _, entry := range p.Packages {
		status, err := entry.inst.Status(ctx)
		if err != nil || status == "" {
			status = StatusUnknown
		}
		out = append(out, PkgStatus{
			PkgID:   entry.PkgID,
			PkgType: entry.PkgType,
			State:   entry.inst.base().State,
			Status:  status,
		})
	}
	return out
}

// Run starts every package, then stops them in reverse order.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Stop(ctx)
}

// Clean removes package data, best effort. Failures are collected and
// reported.
func (p *Pipeline) Clean(ctx context.Context) []error {
	var errs []error
	for _, entry := range p.Packages {
		p.log.Infow("clean begin", "pkg", entry.GlobalID, "type", entry.PkgType)
		if err := entry.inst.Clean(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: clean: %w", entry.GlobalID, err))
		}
		p.log.Infow("clean end", "pkg", entry.GlobalID)
	}
	return errs
}

// Destroy runs best-effort clean/destroy on every package, then removes
// the pipeline's persisted state. Cleanup failures are returned for
// reporting but never block removal.
func (p *Pipeline) Destroy(ctx context.Context) (cleanup []error, err error) {
	cleanup = p.Clean(ctx)
	for _, entry := range p.allEntries() {
		if err := entry.inst.base().destroyTree(); err != nil {
			cleanup = append(cleanup, err)
		}
	}
	if err := os.RemoveAll(p.dir()); err != nil {
		return cleanup, fmt.Errorf("remove pipeline %q: %w", p.Name, err)
	}
	if p.settings.CurrentPipeline == p.Name {
		if err := p.settings.SetCurrentPipeline(""); err != nil {
			return cleanup, err
		}
	}
	p.log.Infow("destroyed pipeline", "pipeline", p.Name, "cleanup_failures", len(cleanup))
	return cleanup, nil
}

// BuildContainer builds the shared container image for this pipeline's
// descriptor, if it has one.
func (p *Pipeline) BuildContainer(ctx context.Context) error {
	if p.Container == nil {
		return nil
	}
	return p.store.Build(ctx, p.Container)
}

// Store exposes the container store for CLI listing and removal.
func (p *Pipeline) Store() *ContainerStore { return p.store }

// InterceptorOrder returns interceptor IDs in descriptor order.
func (p *Pipeline) InterceptorOrder() []string {
	return append([]string(nil), p.interceptorOrder...)
}

func (p *Pipeline) find(pkgID string) *PackageEntry {
	for _, entry := range p.Packages {
		if entry.PkgID == pkgID {
			return entry
		}
	}
	return p.Interceptors[pkgID]
}

func (p *Pipeline) allEntries() []*PackageEntry {
	out := make([]*PackageEntry, 0, len(p.Packages)+len(p.Interceptors))
	out = append(out, p.Packages...)
	for _, id := range p.interceptorOrder {
		out = append(out, p.Interceptors[id])
	}
	return out
}

// attribute stamps a validation error with the offending package's global
// ID when it does not carry one yet.
func attribute(err error, globalID string) error {
	var cv *ConfigValidationError
	if errors.As(err, &cv) && cv.GlobalID == "" {
		cv.GlobalID = globalID
	}
	return err
}
