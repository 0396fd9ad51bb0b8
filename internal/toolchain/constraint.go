package toolchain

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// comparator is a single "op version" term, e.g. ">=0.8.0"
type comparator struct {
	op      string // "=", ">", ">=", "<", "<="
	version string // canonical semver with the "v" prefix
}

func (c comparator) allows(v string) bool {
	cmp := semver.Compare(v, c.version)
	switch c.op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	default:
		return cmp == 0
	}
}

// Constraint is a parsed version requirement: a disjunction ("||") of
// conjunctions of comparators.
type Constraint struct {
	raw  string
	sets [][]comparator
}

// String returns the requirement as it was written
func (c Constraint) String() string {
	return c.raw
}

// Allows reports whether the given compiler version satisfies the constraint
func (c Constraint) Allows(version string) bool {
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		return false
	}
	for _, set := range c.sets {
		ok := true
		for _, cmp := range set {
			if !cmp.allows(v) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// ParseConstraint parses a pragma version expression such as "^0.8.0",
// ">=0.5.0 <0.7.0", "0.6.6" or "0.4.18 || ^0.5.0".
func ParseConstraint(expr string) (Constraint, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Constraint{}, fmt.Errorf("empty version constraint")
	}

	c := Constraint{raw: expr}
	for _, alt := range strings.Split(expr, "||") {
		set, err := parseSet(alt)
		if err != nil {
			return Constraint{}, fmt.Errorf("invalid constraint %q: %w", expr, err)
		}
		c.sets = append(c.sets, set)
	}
	return c, nil
}

func parseSet(alt string) ([]comparator, error) {
	tokens := joinOperators(strings.Fields(alt))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty alternative")
	}

	// Hyphen range: "0.5.0 - 0.6.12"
	if len(tokens) == 3 && tokens[1] == "-" {
		lo, err := parseVersion(tokens[0])
		if err != nil {
			return nil, err
		}
		hi, err := parseVersion(tokens[2])
		if err != nil {
			return nil, err
		}
		return []comparator{{">=", lo.canonical()}, {"<=", hi.canonical()}}, nil
	}

	var set []comparator
	for _, tok := range tokens {
		cmps, err := parseTerm(tok)
		if err != nil {
			return nil, err
		}
		set = append(set, cmps...)
	}
	return set, nil
}

// joinOperators merges a bare operator token with the version after it so
// ">= 0.5.0" and ">=0.5.0" parse the same.
func joinOperators(tokens []string) []string {
	var out []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case ">", ">=", "<", "<=", "=", "^", "~":
			if i+1 < len(tokens) {
				tok += tokens[i+1]
				i++
			}
		}
		out = append(out, tok)
	}
	return out
}

func parseTerm(tok string) ([]comparator, error) {
	op := ""
	for _, prefix := range []string{">=", "<=", ">", "<", "=", "^", "~"} {
		if strings.HasPrefix(tok, prefix) {
			op = prefix
			tok = tok[len(prefix):]
			break
		}
	}

	v, err := parseVersion(tok)
	if err != nil {
		return nil, err
	}

	switch op {
	case "^":
		return []comparator{{">=", v.canonical()}, {"<", v.caretUpper()}}, nil
	case "~":
		return []comparator{{">=", v.canonical()}, {"<", v.tildeUpper()}}, nil
	case "", "=":
		if v.parts < 3 {
			// "0.8" means any 0.8.x
			return []comparator{{">=", v.canonical()}, {"<", v.tildeUpper()}}, nil
		}
		return []comparator{{"=", v.canonical()}}, nil
	default:
		return []comparator{{op, v.canonical()}}, nil
	}
}

type version struct {
	major, minor, patch int
	parts               int // how many components were written
}

func parseVersion(s string) (version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	fields := strings.Split(s, ".")
	if len(fields) == 0 || len(fields) > 3 {
		return version{}, fmt.Errorf("invalid version %q", s)
	}

	var nums [3]int
	parts := 0
	for i, f := range fields {
		if f == "x" || f == "X" || f == "*" {
			break
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return version{}, fmt.Errorf("invalid version %q", s)
		}
		nums[i] = n
		parts++
	}
	if parts == 0 {
		return version{}, fmt.Errorf("invalid version %q", s)
	}
	return version{major: nums[0], minor: nums[1], patch: nums[2], parts: parts}, nil
}

func (v version) canonical() string {
	return fmt.Sprintf("v%d.%d.%d", v.major, v.minor, v.patch)
}

// caretUpper is the exclusive bound of ^v: the left-most non-zero
// component may not change.
func (v version) caretUpper() string {
	switch {
	case v.major > 0 || v.parts == 1:
		return fmt.Sprintf("v%d.0.0", v.major+1)
	case v.minor > 0 || v.parts == 2:
		return fmt.Sprintf("v0.%d.0", v.minor+1)
	default:
		return fmt.Sprintf("v0.0.%d", v.patch+1)
	}
}

// tildeUpper is the exclusive bound of ~v: patch-level changes only.
func (v version) tildeUpper() string {
	if v.parts == 1 {
		return fmt.Sprintf("v%d.0.0", v.major+1)
	}
	return fmt.Sprintf("v%d.%d.0", v.major, v.minor+1)
}
