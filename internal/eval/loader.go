// Package eval loads declaration documents from disk into IR resources.
package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/converge-io/converge/internal/ir"
)

// DefaultFileName is the declarations file looked up when no path is given.
const DefaultFileName = "converge.json"

var varPattern = regexp.MustCompile(`\$\{var\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// Loader reads declaration files into resources. Vars feed ${var.NAME}
// substitution inside attribute and for_each strings.
type Loader struct {
	Vars map[string]string
}

func NewLoader(vars map[string]string) *Loader {
	return &Loader{Vars: vars}
}

// Load reads declarations from path. A directory loads every *.json file
// in it, in name order, merged into one resource set; an empty path means
// DefaultFileName in the current directory. Semantic checks (duplicate
// addresses, reference targets) are left to the planner.
func (l *Loader) Load(path string) ([]*ir.Resource, error) {
	if path == "" {
		path = DefaultFileName
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading declarations: %w", err)
	}
	if !info.IsDir() {
		return l.loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading declarations directory: %w", err)
	}

	var resources []*ir.Resource
	var loaded int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		part, err := l.loadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		resources = append(resources, part...)
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no *.json declaration files in %s", path)
	}
	return resources, nil
}

func (l *Loader) loadFile(path string) ([]*ir.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading declarations: %w", err)
	}
	resources, err := ir.DecodeDeclarations(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := l.substitute(resources); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resources, nil
}

// substitute rewrites ${var.NAME} occurrences in place. Every referenced
// variable must be supplied; unresolved names aggregate into one error.
func (l *Loader) substitute(resources []*ir.Resource) error {
	missing := map[string]bool{}
	sub := func(s string) string {
		return varPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := varPattern.FindStringSubmatch(m)[1]
			if v, ok := l.Vars[name]; ok {
				return v
			}
			missing[name] = true
			return m
		})
	}

	for _, res := range resources {
		for key, v := range res.Attrs {
			rewritten, err := v.MapStrings(sub)
			if err != nil {
				return fmt.Errorf("%s attribute %q: %w", res.Address(), key, err)
			}
			res.Attrs[key] = rewritten
		}
		for key, v := range res.ForEach {
			res.ForEach[key] = mapAnyStrings(v, sub)
		}
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("undefined variables: %s", strings.Join(names, ", "))
	}
	return nil
}

func mapAnyStrings(v any, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		return fn(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = mapAnyStrings(e, fn)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = mapAnyStrings(e, fn)
		}
		return out
	default:
		return v
	}
}
