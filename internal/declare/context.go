package declare

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"jitgen/internal/logging"
)

// TypeSource is one custom type definition included in a context bundle.
type TypeSource struct {
	Name   string
	File   string
	Source string
}

// ContextBundle is the set of custom type definitions reachable from a
// declaration, collected by static inspection of the declaring package.
// It is a read-only snapshot: ordering is deterministic (sorted by type
// name) so the same code always produces the same checksum.
type ContextBundle struct {
	Types []TypeSource
}

// Combined renders the bundle as a single source fragment for prompting
// and checksumming.
func (b ContextBundle) Combined() string {
	var sb strings.Builder
	for _, t := range b.Types {
		sb.WriteString(t.Source)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// Empty reports whether the bundle carries no type definitions.
func (b ContextBundle) Empty() bool {
	return len(b.Types) == 0
}

// Files returns the distinct source files the bundle draws from, sorted.
func (b ContextBundle) Files() []string {
	seen := map[string]bool{}
	var files []string
	for _, t := range b.Types {
		if !seen[t.File] {
			seen[t.File] = true
			files = append(files, t.File)
		}
	}
	sort.Strings(files)
	return files
}

// CollectContext gathers the custom types a declaration references,
// transitively, from the declaring package's directory. Types from other
// packages are left to the model's general knowledge; only same-package
// definitions are inlined.
func CollectContext(decl Declaration) (ContextBundle, error) {
	timer := logging.StartTimer(logging.CategoryDeclare, "CollectContext")
	defer timer.Stop()

	dir := filepath.Dir(decl.File)
	defs, err := packageTypeDefs(dir, decl.Package)
	if err != nil {
		return ContextBundle{}, err
	}

	// Seed with identifiers referenced by the declaration itself.
	pending := referencedIdents(decl.Source)
	collected := map[string]TypeSource{}

	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		if _, done := collected[name]; done {
			continue
		}
		def, ok := defs[name]
		if !ok {
			continue
		}
		// A type declaration never includes itself as context.
		if decl.Kind == KindType && name == decl.Name {
			continue
		}
		collected[name] = def

		// Types referenced by this definition join the frontier.
		pending = append(pending, referencedIdents(def.Source)...)
	}

	bundle := ContextBundle{}
	for _, def := range collected {
		bundle.Types = append(bundle.Types, def)
	}
	sort.Slice(bundle.Types, func(i, j int) bool {
		return bundle.Types[i].Name < bundle.Types[j].Name
	})

	logging.DeclareDebug("Context for %s: %d types from %d files",
		decl.Name, len(bundle.Types), len(bundle.Files()))
	return bundle, nil
}

// packageTypeDefs indexes every top-level type declared in pkgName under dir.
func packageTypeDefs(dir, pkgName string) (map[string]TypeSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package dir %s: %w", dir, err)
	}

	defs := map[string]TypeSource{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		path := filepath.Join(dir, name)
		src, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
		if err != nil || file.Name.Name != pkgName {
			continue
		}

		for _, d := range file.Decls {
			gen, ok := d.(*ast.GenDecl)
			if !ok || gen.Tok != token.TYPE {
				continue
			}
			for _, spec := range gen.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				start, end := declRange(fset, gen, gen.Doc)
				defs[ts.Name.Name] = TypeSource{
					Name:   ts.Name.Name,
					File:   path,
					Source: string(src[start:end]),
				}
			}
		}
	}
	return defs, nil
}

// referencedIdents returns candidate type identifiers appearing in a source
// fragment: exported or unexported idents that are not predeclared and not
// selector-qualified.
func referencedIdents(source string) []string {
	expr := "package p\n" + source
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", expr, 0)
	if err != nil {
		// Fragments that only parse as a declaration body are wrapped again.
		file, err = parser.ParseFile(fset, "", "package p\nfunc _() {\n"+source+"\n}", 0)
		if err != nil {
			return nil
		}
	}

	seen := map[string]bool{}
	var names []string
	ast.Inspect(file, func(n ast.Node) bool {
		// Skip the right side of selectors: pkg.Type is out of package.
		if sel, ok := n.(*ast.SelectorExpr); ok {
			ast.Inspect(sel.X, func(m ast.Node) bool {
				if id, ok := m.(*ast.Ident); ok {
					addIdent(id.Name, seen, &names)
				}
				return true
			})
			return false
		}
		if id, ok := n.(*ast.Ident); ok {
			addIdent(id.Name, seen, &names)
		}
		return true
	})
	return names
}

func addIdent(name string, seen map[string]bool, names *[]string) {
	if seen[name] || predeclared[name] {
		return
	}
	seen[name] = true
	*names = append(*names, name)
}

var predeclared = map[string]bool{
	"bool": true, "byte": true, "complex64": true, "complex128": true,
	"error": true, "float32": true, "float64": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"rune": true, "string": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"uintptr": true, "any": true, "comparable": true,
	"true": true, "false": true, "iota": true, "nil": true,
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
	"_": true,
}
