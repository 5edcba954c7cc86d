// Package declare extracts implementation targets from Go source.
//
// A declaration is a function, method, or type carrying a
// "//jitgen:implement" directive whose body is missing or a
// panic("not implemented") stub. The extractor records the exact source
// text and byte range so the installer can splice a generated body back in.
package declare

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strings"
)

// Directive marks a declaration for just-in-time implementation.
const Directive = "//jitgen:implement"

// TestDirective supplies a validation expression for a declaration. The
// rest of the line is a boolean expression evaluated against the candidate,
// which lives in package main, e.g.:
//
//	//jitgen:test len(main.PrimeFactors(100)) == 4
const TestDirective = "//jitgen:test"

// Kind classifies a declaration.
type Kind int

const (
	KindFunc Kind = iota
	KindMethod
	KindType
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindMethod:
		return "method"
	case KindType:
		return "type"
	default:
		return "unknown"
	}
}

// Declaration is a named signature plus docstring with no real body.
// Immutable once extracted.
type Declaration struct {
	Name      string   // Symbol name; methods are "Recv.Name"
	Kind      Kind
	File      string   // Declaring file path
	Package   string   // Declaring package name
	Signature string   // One-line signature, e.g. "func PrimeFactors(n int) []int"
	Doc       string   // Doc comment text, directive lines stripped
	Tests     []string // Expressions from //jitgen:test lines, in order
	Source    string   // Full declaration source including doc comment
	Offset    int      // Byte offset of the declaration (including doc) in File
	End       int      // Byte offset one past the declaration in File
}

// Key returns a stable identifier for cache paths and logs.
func (d Declaration) Key() string {
	return fmt.Sprintf("%s:%s", d.File, d.Name)
}

// Extract parses a Go source file and returns all declarations eligible for
// implementation. Files without any directive yield an empty slice, not an
// error.
func Extract(path string) ([]Declaration, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return extractSource(path, src)
}

func extractSource(path string, src []byte) ([]Declaration, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var decls []Declaration
	for _, d := range file.Decls {
		switch decl := d.(type) {
		case *ast.FuncDecl:
			if !hasDirective(decl.Doc) || !isStubBody(decl.Body) {
				continue
			}
			decls = append(decls, newFuncDeclaration(fset, file, src, path, decl))

		case *ast.GenDecl:
			if decl.Tok != token.TYPE || !hasDirective(decl.Doc) {
				continue
			}
			for _, spec := range decl.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				decls = append(decls, newTypeDeclaration(fset, file, src, path, decl, ts))
			}
		}
	}
	return decls, nil
}

// FindByName extracts the named declaration from a file.
func FindByName(path, name string) (Declaration, error) {
	decls, err := Extract(path)
	if err != nil {
		return Declaration{}, err
	}
	for _, d := range decls {
		if d.Name == name {
			return d, nil
		}
	}
	return Declaration{}, fmt.Errorf("no implementable declaration %q in %s", name, path)
}

func newFuncDeclaration(fset *token.FileSet, file *ast.File, src []byte, path string, decl *ast.FuncDecl) Declaration {
	kind := KindFunc
	name := decl.Name.Name
	if decl.Recv != nil && len(decl.Recv.List) > 0 {
		kind = KindMethod
		name = recvTypeName(decl.Recv.List[0].Type) + "." + name
	}

	start, end := declRange(fset, decl, decl.Doc)
	return Declaration{
		Name:      name,
		Kind:      kind,
		File:      path,
		Package:   file.Name.Name,
		Signature: signatureText(fset, src, decl),
		Doc:       docText(decl.Doc),
		Tests:     testExprs(decl.Doc),
		Source:    string(src[start:end]),
		Offset:    start,
		End:       end,
	}
}

func newTypeDeclaration(fset *token.FileSet, file *ast.File, src []byte, path string, decl *ast.GenDecl, ts *ast.TypeSpec) Declaration {
	start, end := declRange(fset, decl, decl.Doc)
	return Declaration{
		Name:      ts.Name.Name,
		Kind:      KindType,
		File:      path,
		Package:   file.Name.Name,
		Signature: "type " + ts.Name.Name,
		Doc:       docText(decl.Doc),
		Tests:     testExprs(decl.Doc),
		Source:    string(src[start:end]),
		Offset:    start,
		End:       end,
	}
}

// declRange returns byte offsets covering the declaration and its doc comment.
func declRange(fset *token.FileSet, decl ast.Node, doc *ast.CommentGroup) (int, int) {
	start := decl.Pos()
	if doc != nil {
		start = doc.Pos()
	}
	return fset.Position(start).Offset, fset.Position(decl.End()).Offset
}

// signatureText returns the declaration header without doc comment or body.
func signatureText(fset *token.FileSet, src []byte, decl *ast.FuncDecl) string {
	start := fset.Position(decl.Pos()).Offset
	end := fset.Position(decl.Type.End()).Offset
	return strings.TrimSpace(string(src[start:end]))
}

// hasDirective reports whether a doc comment carries the implement directive.
func hasDirective(doc *ast.CommentGroup) bool {
	if doc == nil {
		return false
	}
	for _, c := range doc.List {
		if strings.HasPrefix(strings.TrimSpace(c.Text), Directive) {
			return true
		}
	}
	return false
}

// docText returns the doc comment with all directive lines removed.
func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	var lines []string
	for _, c := range doc.List {
		if strings.HasPrefix(strings.TrimSpace(c.Text), "//jitgen:") {
			continue
		}
		lines = append(lines, c.Text)
	}
	text := (&ast.CommentGroup{List: commentList(lines)}).Text()
	return strings.TrimSpace(text)
}

// testExprs collects the expressions from //jitgen:test lines, in source
// order.
func testExprs(doc *ast.CommentGroup) []string {
	if doc == nil {
		return nil
	}
	var exprs []string
	for _, c := range doc.List {
		line := strings.TrimSpace(c.Text)
		if !strings.HasPrefix(line, TestDirective) {
			continue
		}
		rest := strings.TrimPrefix(line, TestDirective)
		if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		if expr := strings.TrimSpace(rest); expr != "" {
			exprs = append(exprs, expr)
		}
	}
	return exprs
}

func commentList(lines []string) []*ast.Comment {
	cs := make([]*ast.Comment, len(lines))
	for i, l := range lines {
		cs[i] = &ast.Comment{Text: l}
	}
	return cs
}

// isStubBody reports whether a function body is missing, empty, or a single
// panic call. Anything else is treated as already implemented.
func isStubBody(body *ast.BlockStmt) bool {
	if body == nil || len(body.List) == 0 {
		return true
	}
	if len(body.List) != 1 {
		return false
	}
	expr, ok := body.List[0].(*ast.ExprStmt)
	if !ok {
		return false
	}
	call, ok := expr.X.(*ast.CallExpr)
	if !ok {
		return false
	}
	ident, ok := call.Fun.(*ast.Ident)
	return ok && ident.Name == "panic"
}

func recvTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return recvTypeName(t.X)
	case *ast.IndexExpr:
		return recvTypeName(t.X)
	case *ast.IndexListExpr:
		return recvTypeName(t.X)
	default:
		return ""
	}
}
