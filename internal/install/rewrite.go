package install

import (
	"fmt"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"jitgen/internal/cache"
	"jitgen/internal/declare"
	"jitgen/internal/logging"
)

// Rewrite splices the generated implementation into the declaring source
// file, replacing the stub declaration. The write is atomic but the
// mutation itself is irreversible: callers gate it behind an explicit
// in-place opt-in.
func Rewrite(decl declare.Declaration, entry *cache.Entry) error {
	timer := logging.StartTimer(logging.CategoryInstall, "Rewrite")
	defer timer.Stop()

	src, err := os.ReadFile(decl.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", decl.File, err)
	}

	// The declaration must still be where we extracted it; the file may
	// have changed since.
	if decl.End > len(src) || string(src[decl.Offset:decl.End]) != decl.Source {
		return fmt.Errorf("declaration %s moved since extraction, re-run implement", decl.Name)
	}

	replacement := replacementText(decl, entry)
	rewritten := string(src[:decl.Offset]) + replacement + string(src[decl.End:])

	rewritten, err = mergeImports(decl.File, rewritten, entry.Imports)
	if err != nil {
		return err
	}

	formatted, err := format.Source([]byte(rewritten))
	if err != nil {
		return fmt.Errorf("rewritten %s does not format: %w", decl.File, err)
	}

	if err := writeAtomic(decl.File, formatted); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", decl.File, err)
	}

	logging.Install("Rewrote %s in %s (version %d)", decl.Name, decl.File, entry.Version)
	return nil
}

// replacementText keeps the declaration's doc comment (directive stripped)
// above the generated implementation.
func replacementText(decl declare.Declaration, entry *cache.Entry) string {
	code := strings.TrimSpace(entry.Code)
	if decl.Doc == "" {
		return code
	}
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimSpace(decl.Doc), "\n") {
		sb.WriteString("// ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString(code)
	return sb.String()
}

// mergeImports appends an import block for any generated imports the file
// does not already carry. A second import declaration is valid Go and
// gofmt-stable.
func mergeImports(path, src string, imports []string) (string, error) {
	if len(imports) == 0 {
		return src, nil
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ImportsOnly)
	if err != nil {
		return "", fmt.Errorf("rewritten %s does not parse: %w", path, err)
	}

	existing := map[string]bool{}
	for _, imp := range file.Imports {
		existing[strings.Trim(imp.Path.Value, `"`)] = true
	}

	var missing []string
	for _, imp := range imports {
		if !existing[imp] {
			missing = append(missing, imp)
		}
	}
	if len(missing) == 0 {
		return src, nil
	}

	var block strings.Builder
	block.WriteString("\nimport (\n")
	for _, imp := range missing {
		fmt.Fprintf(&block, "\t%q\n", imp)
	}
	block.WriteString(")\n")

	// Insert after the package clause line.
	var idx int
	if strings.HasPrefix(src, "package ") {
		idx = strings.Index(src, "\n")
	} else if i := strings.Index(src, "\npackage "); i >= 0 {
		rest := strings.Index(src[i+1:], "\n")
		if rest < 0 {
			return "", fmt.Errorf("no package clause in %s", path)
		}
		idx = i + 1 + rest
	} else {
		return "", fmt.Errorf("no package clause in %s", path)
	}
	return src[:idx+1] + block.String() + src[idx+1:], nil
}

func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jitgen-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
