// File: internal/pipeline/registry.go
// Brief: Package type registry: pkg_type string -> constructor.

package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds a fresh, unconfigured instance of one package type.
type Constructor func() Pkg

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register binds a package type identifier ("repo.name" form) to its
// constructor. Collaborator repositories call this from init(); a duplicate
// registration is a programming error and panics.
func Register(pkgType string, fn Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[pkgType]; ok {
		panic(fmt.Sprintf("package type %q registered twice", pkgType))
	}
	registry[pkgType] = fn
}

// RegisteredTypes returns all known package type identifiers, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ResolveType expands a short package name to its full "repo.name"
// identifier. Full identifiers pass through after an existence check; a
// short name matching more than one repository is ambiguous.
func ResolveType(spec string) (string, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if strings.Contains(spec, ".") {
		if _, ok := registry[spec]; !ok {
			return "", fmt.Errorf("package type %q: %w", spec, ErrNotFound)
		}
		return spec, nil
	}
	var matches []string
	for t := range registry {
		if strings.HasSuffix(t, "."+spec) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("package type %q: %w", spec, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("package type %q is ambiguous: %v", spec, matches)
	}
}

// TypeMenu returns the complete configuration menu for a registered type,
// common parameters included.
func TypeMenu(spec string) (Menu, error) {
	full, err := ResolveType(spec)
	if err != nil {
		return nil, err
	}
	p, err := newPkg(full)
	if err != nil {
		return nil, err
	}
	return FullMenu(p), nil
}

// newPkg constructs an instance of the given (full) package type.
func newPkg(pkgType string) (Pkg, error) {
	registryMu.RLock()
	fn, ok := registry[pkgType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("package type %q: %w", pkgType, ErrNotFound)
	}
	return fn(), nil
}
