package domain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanFile is the on-disk form of a deployment plan
//
//	network: goerli
//	steps:
//	  - id: factory
//	    contract: KmbioFactory
//	    args: ["0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061"]
//	  - id: router
//	    contract: KmbioRouter
//	    args: [{ref: factory}, "0x4200000000000000000000000000000000000006"]
type PlanFile struct {
	Network string `yaml:"network,omitempty"`
	Steps   []Step `yaml:"steps"`
}

// UnmarshalYAML accepts a scalar literal, a {ref: id} mapping, or a sequence
// which becomes an array literal like "[a,b]".
func (a *Arg) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		// Value keeps the literal as written, so large integers stay exact.
		*a = Literal(node.Value)
		return nil
	case yaml.MappingNode:
		var ref struct {
			Ref string `yaml:"ref"`
		}
		if err := node.Decode(&ref); err != nil {
			return err
		}
		if ref.Ref == "" {
			return fmt.Errorf("line %d: argument mapping must be {ref: <step id>}", node.Line)
		}
		*a = Ref(ref.Ref)
		return nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			var inner Arg
			if err := inner.UnmarshalYAML(item); err != nil {
				return err
			}
			if inner.IsRef() {
				return fmt.Errorf("line %d: references are not allowed inside array arguments", item.Line)
			}
			parts = append(parts, inner.Literal)
		}
		*a = Literal("[" + strings.Join(parts, ",") + "]")
		return nil
	default:
		return fmt.Errorf("line %d: unsupported argument", node.Line)
	}
}

// MarshalYAML writes refs as {ref: id} and literals as strings
func (a Arg) MarshalYAML() (any, error) {
	if a.IsRef() {
		return map[string]string{"ref": a.Ref}, nil
	}
	return a.Literal, nil
}

// ParsePlanFile decodes a plan document, rejecting unknown keys
func ParsePlanFile(r io.Reader) (*PlanFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var pf PlanFile
	if err := dec.Decode(&pf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: plan file is empty", ErrConfiguration)
		}
		return nil, fmt.Errorf("%w: parsing plan: %w", ErrConfiguration, err)
	}
	return &pf, nil
}

// LoadPlanFile reads a plan document from disk
func LoadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading plan: %w", ErrConfiguration, err)
	}
	return ParsePlanFile(bytes.NewReader(data))
}

// Encode renders the plan as YAML
func (pf *PlanFile) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(pf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseStep parses the command-line form of a step:
//
//	[id=]Contract[:arg,arg,...]
//
// An argument "@id" refers to the address of an earlier step. Commas inside
// brackets belong to array literals.
func ParseStep(s string) (Step, error) {
	var step Step
	s = strings.TrimSpace(s)
	if s == "" {
		return step, fmt.Errorf("%w: empty step", ErrConfiguration)
	}

	head, rest, hasArgs := strings.Cut(s, ":")
	if id, contract, ok := strings.Cut(head, "="); ok {
		step.ID = strings.TrimSpace(id)
		head = contract
	}
	step.Contract = strings.TrimSpace(head)
	if step.Contract == "" {
		return step, fmt.Errorf("%w: step %q has no contract", ErrConfiguration, s)
	}
	if !hasArgs || strings.TrimSpace(rest) == "" {
		return step, nil
	}

	parts, err := splitArgs(rest)
	if err != nil {
		return step, fmt.Errorf("%w: step %q: %w", ErrConfiguration, s, err)
	}
	for _, p := range parts {
		if ref, ok := strings.CutPrefix(p, "@"); ok {
			if ref == "" {
				return step, fmt.Errorf("%w: step %q: empty reference", ErrConfiguration, s)
			}
			step.Args = append(step.Args, Ref(ref))
			continue
		}
		step.Args = append(step.Args, Literal(p))
	}
	return step, nil
}

// splitArgs splits on top-level commas
func splitArgs(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ']' at offset %d", i)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '['")
	}
	return append(parts, strings.TrimSpace(s[start:])), nil
}
