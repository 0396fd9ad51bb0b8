package toolchain

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`(?m)//.*$`)
	pragmaRe       = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	importRe       = regexp.MustCompile(`import\s+(?:[^;"']*?\s+from\s+)?["']([^"']+)["']`)
)

// importRoots are searched, in order, for non-relative import paths
var importRoots = []string{"", "node_modules", "lib"}

// sourceFile is the subset of a Solidity file the resolver cares about
type sourceFile struct {
	Path        string
	Constraints []Constraint
	Imports     []string
}

func parseSource(p string, content []byte) (*sourceFile, error) {
	text := blockCommentRe.ReplaceAllString(string(content), "")
	text = lineCommentRe.ReplaceAllString(text, "")

	sf := &sourceFile{Path: p}
	for _, m := range pragmaRe.FindAllStringSubmatch(text, -1) {
		c, err := ParseConstraint(m[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		sf.Constraints = append(sf.Constraints, c)
	}
	for _, m := range importRe.FindAllStringSubmatch(text, -1) {
		sf.Imports = append(sf.Imports, m[1])
	}
	return sf, nil
}

// collectConstraints parses the root file and every import that resolves
// inside fsys. Imports that cannot be found are left to the compiler to
// report.
func collectConstraints(fsys fs.FS, root string) ([]*sourceFile, error) {
	var files []*sourceFile
	seen := make(map[string]bool)

	var visit func(p string, required bool) error
	visit = func(p string, required bool) error {
		if seen[p] {
			return nil
		}
		seen[p] = true

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			if !required && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("%w: %s: %v", ErrSourceNotFound, p, err)
		}

		sf, err := parseSource(p, content)
		if err != nil {
			return err
		}
		files = append(files, sf)

		for _, imp := range sf.Imports {
			target, ok := resolveImport(fsys, p, imp)
			if !ok {
				continue
			}
			if err := visit(target, false); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(path.Clean(root), true); err != nil {
		return nil, err
	}
	return files, nil
}

// resolveImport maps an import statement to a path inside fsys
func resolveImport(fsys fs.FS, from, imp string) (string, bool) {
	if strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../") {
		target := path.Join(path.Dir(from), imp)
		return target, fs.ValidPath(target)
	}

	for _, root := range importRoots {
		target := path.Join(root, imp)
		if !fs.ValidPath(target) {
			continue
		}
		if _, err := fs.Stat(fsys, target); err == nil {
			return target, true
		}
	}
	return "", false
}
