// Package toolchain maps Solidity source units to the compiler version and
// optimizer settings used to build them.
package toolchain

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/validation"
)

// Errors
var (
	ErrNoCompilers        = errors.New("no compiler versions registered")
	ErrUnsupportedVersion = errors.New("unsupported compiler version")
	ErrInvalidDeclaration = errors.New("invalid compiler declaration")
	ErrSourceNotFound     = errors.New("source unit not found")
)

// DefaultOptimizer is applied to declarations that do not carry their own
// optimizer settings.
var DefaultOptimizer = chains.OptimizerConfig{Enabled: true, Runs: 200}

// CompilerSpec is the exact compiler a source unit is built with
type CompilerSpec struct {
	Version   string                 `json:"version"`
	Optimizer chains.OptimizerConfig `json:"optimizer"`
}

func (s CompilerSpec) String() string {
	if !s.Optimizer.Enabled {
		return s.Version + " (optimizer off)"
	}
	return fmt.Sprintf("%s (optimizer %d runs)", s.Version, s.Optimizer.Runs)
}

// Declaration is a compiler entry as written in the project file. A nil
// Optimizer inherits the registry default.
type Declaration struct {
	Version   string                  `toml:"version" json:"version"`
	Optimizer *chains.OptimizerConfig `toml:"optimizer" json:"optimizer,omitempty"`
}

// Registry holds the compilers a project makes available and resolves
// source units against them.
type Registry struct {
	fsys     fs.FS
	defaults chains.OptimizerConfig

	mu        sync.RWMutex
	compilers []Declaration
	overrides map[string]Declaration
}

// NewRegistry creates a registry that reads sources from fsys
func NewRegistry(fsys fs.FS, defaults chains.OptimizerConfig) *Registry {
	return &Registry{
		fsys:      fsys,
		defaults:  defaults,
		overrides: make(map[string]Declaration),
	}
}

// RegisterCompilerVersions appends declarations in order. Invalid versions
// and duplicates are rejected and nothing from the batch is registered.
func (r *Registry) RegisterCompilerVersions(decls []Declaration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.compilers)+len(decls))
	for _, d := range r.compilers {
		seen[d.Version] = true
	}

	batch := make([]Declaration, 0, len(decls))
	for _, d := range decls {
		d, err := normalizeDeclaration(d)
		if err != nil {
			return err
		}
		if seen[d.Version] {
			return fmt.Errorf("%w: %s declared twice", ErrInvalidDeclaration, d.Version)
		}
		seen[d.Version] = true
		batch = append(batch, d)
	}

	r.compilers = append(r.compilers, batch...)
	return nil
}

// SetOverride pins the compiler used for one source path
func (r *Registry) SetOverride(sourcePath string, decl Declaration) error {
	decl, err := normalizeDeclaration(decl)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[path.Clean(sourcePath)] = decl
	return nil
}

// Compilers returns the registered compilers in declaration order with the
// default optimizer applied.
func (r *Registry) Compilers() []CompilerSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]CompilerSpec, 0, len(r.compilers))
	for _, d := range r.compilers {
		specs = append(specs, r.specFor(d))
	}
	return specs
}

// Overrides returns the per-source pins
func (r *Registry) Overrides() map[string]CompilerSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]CompilerSpec, len(r.overrides))
	for p, d := range r.overrides {
		out[p] = r.specFor(d)
	}
	return out
}

// Resolve returns the compiler for a source unit. The unit's own pragmas and
// those of its local imports must all accept the chosen version; among the
// registered versions that do, the highest wins. An override for the unit's
// path is used as-is when it satisfies the pragmas.
func (r *Registry) Resolve(unit chains.SourceUnit) (CompilerSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.compilers) == 0 {
		return CompilerSpec{}, ErrNoCompilers
	}

	files, err := collectConstraints(r.fsys, unit.Path)
	if err != nil {
		return CompilerSpec{}, err
	}

	if override, ok := r.overrides[path.Clean(unit.Path)]; ok {
		if bad := firstRejecting(files, override.Version); bad != "" {
			return CompilerSpec{}, fmt.Errorf("%w: override %s for %s does not satisfy %s",
				ErrUnsupportedVersion, override.Version, unit.Path, bad)
		}
		return r.specFor(override), nil
	}

	var candidates []string
	byVersion := make(map[string]Declaration, len(r.compilers))
	for _, d := range r.compilers {
		if firstRejecting(files, d.Version) == "" {
			candidates = append(candidates, d.Version)
			byVersion[d.Version] = d
		}
	}
	if len(candidates) == 0 {
		return CompilerSpec{}, fmt.Errorf("%w: %s requires %s; registered: %s",
			ErrUnsupportedVersion, unit, describeConstraints(files), strings.Join(r.versions(), ", "))
	}

	return r.specFor(byVersion[validation.ResolveLatest(candidates)]), nil
}

func (r *Registry) versions() []string {
	out := make([]string, 0, len(r.compilers))
	for _, d := range r.compilers {
		out = append(out, d.Version)
	}
	return out
}

func (r *Registry) specFor(d Declaration) CompilerSpec {
	spec := CompilerSpec{Version: d.Version, Optimizer: r.defaults}
	if d.Optimizer != nil {
		spec.Optimizer = *d.Optimizer
	}
	return spec
}

func normalizeDeclaration(d Declaration) (Declaration, error) {
	if err := validation.ValidateVersion(d.Version); err != nil {
		return Declaration{}, fmt.Errorf("%w: %q: %v", ErrInvalidDeclaration, d.Version, err)
	}
	d.Version = validation.NormalizeVersion(d.Version)
	if d.Optimizer != nil && d.Optimizer.Runs < 0 {
		return Declaration{}, fmt.Errorf("%w: %s: optimizer runs must not be negative", ErrInvalidDeclaration, d.Version)
	}
	return d, nil
}

// firstRejecting returns "path (constraint)" for the first pragma that does
// not accept version, or "" when all do.
func firstRejecting(files []*sourceFile, version string) string {
	for _, f := range files {
		for _, c := range f.Constraints {
			if !c.Allows(version) {
				return fmt.Sprintf("%s (%s)", f.Path, c)
			}
		}
	}
	return ""
}

func describeConstraints(files []*sourceFile) string {
	var parts []string
	for _, f := range files {
		for _, c := range f.Constraints {
			parts = append(parts, fmt.Sprintf("%s in %s", c, f.Path))
		}
	}
	if len(parts) == 0 {
		return "no pragma"
	}
	return strings.Join(parts, ", ")
}
