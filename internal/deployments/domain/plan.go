package domain

import (
	"errors"
	"fmt"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/toolchain"
	"github.com/pendergraft/contradeploy/internal/validation"
)

// Catalog maps contract names to source units
type Catalog interface {
	Unit(name string) (chains.SourceUnit, bool)
}

// Resolver pins a compiler for a source unit
type Resolver interface {
	Resolve(unit chains.SourceUnit) (toolchain.CompilerSpec, error)
}

// NewPlan validates steps against the project and pins a compiler for each.
// Nothing touches the network or the compiler here; every problem found is
// reported together, wrapped in ErrConfiguration.
//
// A step without an ID takes its contract name. References must point at a
// strictly earlier step.
func NewPlan(network string, steps []Step, catalog Catalog, resolver Resolver) (*Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", ErrConfiguration)
	}

	ids := make(map[string]int, len(steps))
	for i := range steps {
		id := steps[i].ID
		if id == "" {
			id = steps[i].Contract
		}
		if _, dup := ids[id]; !dup {
			ids[id] = i
		}
	}

	var errs []error
	seen := make(map[string]bool, len(steps))
	planned := make([]PlannedStep, 0, len(steps))

	for i, step := range steps {
		if step.ID == "" {
			step.ID = step.Contract
		}
		where := fmt.Sprintf("step %d (%s)", i+1, step.ID)

		if err := validation.ValidateStepID(step.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
		if seen[step.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate step id %q", where, step.ID))
		}

		for j, arg := range step.Args {
			if !arg.IsRef() {
				continue
			}
			switch _, known := ids[arg.Ref]; {
			case arg.Ref == step.ID:
				errs = append(errs, fmt.Errorf("%s: argument %d refers to its own step", where, j+1))
			case !known:
				errs = append(errs, fmt.Errorf("%s: argument %d refers to unknown step %q", where, j+1, arg.Ref))
			case !seen[arg.Ref]:
				errs = append(errs, fmt.Errorf("%s: argument %d refers to later step %q", where, j+1, arg.Ref))
			}
		}
		seen[step.ID] = true

		if err := validation.ValidateContractName(step.Contract); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			continue
		}
		unit, ok := catalog.Unit(step.Contract)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unknown contract %q", where, step.Contract))
			continue
		}
		spec, err := resolver.Resolve(unit)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			continue
		}

		planned = append(planned, PlannedStep{Step: step, Unit: unit, Compiler: spec})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return &Plan{Network: network, Steps: planned}, nil
}

// Refs returns the IDs of steps whose addresses later steps consume
func (p *Plan) Refs() map[string]bool {
	refs := make(map[string]bool)
	for _, s := range p.Steps {
		for _, a := range s.Args {
			if a.IsRef() {
				refs[a.Ref] = true
			}
		}
	}
	return refs
}
