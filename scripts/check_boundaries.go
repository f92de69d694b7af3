package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "concord"

// layerRule is the import allowlist of one layer inside a context module.
// Layers are relative to the module prefix; thirdParty are full import paths.
type layerRule struct {
	layers     []string
	thirdParty []string
}

// Adapters and the module root are free to import anything; the inner layers
// are not. Use cases may reach retry, validation, tracing and bounded
// concurrency directly, while storage, transport and metrics clients stay
// behind ports.
var layerRules = map[string]layerRule{
	"domain": {layers: []string{"domain"}},
	"ports":  {layers: []string{"domain"}},
	"application": {
		layers: []string{"application", "domain", "ports"},
		thirdParty: []string{
			"github.com/cenkalti/backoff/v4",
			"github.com/go-playground/validator/v10",
			"go.opentelemetry.io/otel",
			"golang.org/x/sync",
		},
	},
}

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

// collectViolations walks root laid out as <context>/<service>/<layer>/...
// and returns violations sorted by file and line.
func collectViolations(root string) []violation {
	var violations []violation
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 4 {
			return nil
		}
		modulePrefix := strings.Join([]string{modulePath, "contexts", parts[0], parts[1]}, "/")
		violations = append(violations, checkFile(path, parts[2], modulePrefix)...)
		return nil
	})

	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Import < b.Import
	})
	return violations
}

func checkFile(path string, layer string, modulePrefix string) []violation {
	file := filepath.ToSlash(path)
	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: file, Line: 1, Rule: "file must parse"}}
	}

	var violations []violation
	for _, imp := range parsed.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		report := func(rule string) {
			violations = append(violations, violation{
				File:   file,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   rule,
			})
		}

		if hasPrefix(importPath, modulePath+"/contexts") && !hasPrefix(importPath, modulePrefix) {
			report("cross-module imports are forbidden")
		}
		rule, ok := layerRules[layer]
		if !ok || isStdlib(importPath) {
			continue
		}
		switch {
		case strings.Contains(importPath, "/adapters/"):
			report(layer + " must not import adapters")
		case hasPrefix(importPath, modulePath+"/internal"):
			report(layer + " must not import runtime infrastructure")
		case !rule.allows(importPath, modulePrefix):
			report(layer + " import is outside explicit allowlist")
		}
	}
	return violations
}

func (r layerRule) allows(importPath string, modulePrefix string) bool {
	for _, layer := range r.layers {
		if hasPrefix(importPath, modulePrefix+"/"+layer) {
			return true
		}
	}
	for _, prefix := range r.thirdParty {
		if hasPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isStdlib(importPath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
