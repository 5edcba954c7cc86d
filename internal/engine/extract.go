package engine

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// Candidate is a model-produced implementation awaiting validation.
type Candidate struct {
	Imports []string `json:"imports"`
	Code    string   `json:"code"`
	Trace   []string `json:"chain_of_thought"`
}

// FullSource returns imports and code together for interpretation.
func (c *Candidate) FullSource() string {
	if len(c.Imports) == 0 {
		return strings.TrimSpace(c.Code)
	}
	var sb strings.Builder
	sb.WriteString("import (\n")
	for _, imp := range c.Imports {
		fmt.Fprintf(&sb, "\t%q\n", imp)
	}
	sb.WriteString(")\n\n")
	sb.WriteString(strings.TrimSpace(c.Code))
	return sb.String()
}

// parseCandidate recovers a candidate from a model response. The protocol
// asks for a JSON object with imports, code, and chain_of_thought; fenced
// plain-Go responses are accepted as a fallback with imports split out of
// the code.
func parseCandidate(response string) (*Candidate, error) {
	raw := extractCodeBlock(response, "json")
	var cand Candidate
	if err := json.Unmarshal([]byte(raw), &cand); err == nil && strings.TrimSpace(cand.Code) != "" {
		cand.Code = stripImports(cand.Code, &cand.Imports)
		return &cand, nil
	}

	code := extractCodeBlock(response, "go")
	if strings.TrimSpace(code) == "" || !parsesAsGo(code) {
		return nil, fmt.Errorf("response contains no implementation")
	}
	cand = Candidate{Code: code}
	cand.Code = stripImports(cand.Code, &cand.Imports)
	if strings.TrimSpace(cand.Code) == "" {
		return nil, fmt.Errorf("response contains no implementation")
	}
	return &cand, nil
}

// parsesAsGo guards the fenced-Go fallback: prose is not a candidate.
func parsesAsGo(code string) bool {
	src := code
	if !strings.Contains(src, "package ") {
		src = "package main\n\n" + src
	}
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "candidate.go", src, 0)
	return err == nil
}

// extractCodeBlock extracts a code block from a markdown-style response.
func extractCodeBlock(text, lang string) string {
	patterns := []string{
		"```" + lang + "\n",
		"```" + lang + "\r\n",
		"```\n",
	}

	for _, pattern := range patterns {
		if idx := strings.Index(text, pattern); idx != -1 {
			start := idx + len(pattern)
			end := strings.Index(text[start:], "```")
			if end != -1 {
				return strings.TrimSpace(text[start : start+end])
			}
		}
	}

	// No code block found: the response may be the raw payload.
	return strings.TrimSpace(text)
}

// stripImports removes import declarations from code and merges their paths
// into imports, de-duplicated. Models often repeat imports inline despite
// the protocol.
func stripImports(code string, imports *[]string) string {
	src := code
	wrapped := false
	if !strings.Contains(src, "package ") {
		src = "package main\n\n" + src
		wrapped = true
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "candidate.go", src, parser.ParseComments)
	if err != nil {
		// Leave unparseable code alone; validation will reject it with a
		// better message.
		return code
	}

	seen := map[string]bool{}
	for _, imp := range *imports {
		seen[imp] = true
	}

	type span struct{ start, end int }
	var cuts []span
	for _, d := range file.Decls {
		gen, ok := d.(*ast.GenDecl)
		if !ok || gen.Tok != token.IMPORT {
			continue
		}
		for _, spec := range gen.Specs {
			if is, ok := spec.(*ast.ImportSpec); ok {
				path := strings.Trim(is.Path.Value, `"`)
				if !seen[path] {
					seen[path] = true
					*imports = append(*imports, path)
				}
			}
		}
		cuts = append(cuts, span{
			fset.Position(gen.Pos()).Offset,
			fset.Position(gen.End()).Offset,
		})
	}
	if len(cuts) == 0 {
		return code
	}

	var sb strings.Builder
	last := 0
	for _, c := range cuts {
		sb.WriteString(src[last:c.start])
		last = c.end
	}
	sb.WriteString(src[last:])

	out := sb.String()
	if wrapped {
		out = strings.TrimPrefix(out, "package main\n\n")
		out = strings.TrimPrefix(out, "package main\n")
	}
	return strings.TrimSpace(out)
}
