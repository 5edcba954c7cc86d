// Package cache persists validated implementations keyed by checksum.
//
// Each cache entry is a Go source file under the cache root mirroring the
// declaring file's path, with a header comment carrying version, timestamp,
// test outcome, checksum, and the rationale trace from generation. A SQLite
// index provides lookup and history; losing it degrades the store to
// header-scanning and, failing that, to always-regenerate.
package cache

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Entry is one generated, validated implementation. Entries are immutable:
// a changed checksum supersedes an entry rather than mutating it.
type Entry struct {
	Checksum    string    // sha256 over declaration + context + tests
	Name        string    // Declared symbol name
	DeclFile    string    // Declaring source file
	Package     string    // Declaring package name
	Version     int       // Attempt number that produced this entry
	CreatedAt   time.Time // Generation timestamp, UTC
	TestsPassed bool
	AttemptID   string   // Correlation id for logs
	Trace       []string // Rationale trace ("chain of thought")
	Imports     []string
	Code        string // Implementation body, without import statements
	Path        string // Entry file location, set by the store
}

const timeLayout = "2006-01-02T15:04:05Z"

// Render produces the entry file content. The file is valid Go so cached
// implementations stay readable and diffable.
func (e *Entry) Render() string {
	var sb strings.Builder
	sb.WriteString("// Code generated by jitgen. DO NOT EDIT.\n//\n")
	fmt.Fprintf(&sb, "// Version: %d - Generated on %s\n", e.Version, e.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&sb, "// Tests Passed: %s\n", passedString(e.TestsPassed))
	fmt.Fprintf(&sb, "// Declaration File: %s\n", e.DeclFile)
	if e.AttemptID != "" {
		fmt.Fprintf(&sb, "// Attempt: %s\n", e.AttemptID)
	}
	fmt.Fprintf(&sb, "// Implementation Checksum: %s\n", e.Checksum)

	if len(e.Trace) > 0 {
		sb.WriteString("//\n// Chain of Thought:\n")
		for _, step := range e.Trace {
			for _, line := range strings.Split(step, "\n") {
				fmt.Fprintf(&sb, "//   %s\n", line)
			}
		}
	}

	sb.WriteString("\n")
	fmt.Fprintf(&sb, "package %s\n\n", e.Package)

	if len(e.Imports) > 0 {
		sb.WriteString("import (\n")
		for _, imp := range e.Imports {
			fmt.Fprintf(&sb, "\t%q\n", imp)
		}
		sb.WriteString(")\n\n")
	}

	sb.WriteString(strings.TrimSpace(e.Code))
	sb.WriteString("\n")
	return sb.String()
}

var (
	versionRe  = regexp.MustCompile(`// Version: (\d+) - Generated on (\S+)`)
	passedRe   = regexp.MustCompile(`// Tests Passed: (\w+)`)
	declFileRe = regexp.MustCompile(`// Declaration File: (.+)`)
	attemptRe  = regexp.MustCompile(`// Attempt: (\S+)`)
	checksumRe = regexp.MustCompile(`// Implementation Checksum: ([0-9a-f]+)`)
)

// ParseEntry reconstructs an entry from a rendered file: header fields,
// the import block, and the implementation body.
func ParseEntry(content string) (*Entry, error) {
	m := checksumRe.FindStringSubmatch(content)
	if m == nil {
		return nil, fmt.Errorf("no implementation checksum header")
	}
	e := &Entry{Checksum: m[1]}

	if m := versionRe.FindStringSubmatch(content); m != nil {
		fmt.Sscanf(m[1], "%d", &e.Version)
		if ts, err := time.Parse(timeLayout, m[2]); err == nil {
			e.CreatedAt = ts
		}
	}
	if m := passedRe.FindStringSubmatch(content); m != nil {
		e.TestsPassed = m[1] == "PASSED"
	}
	if m := declFileRe.FindStringSubmatch(content); m != nil {
		e.DeclFile = strings.TrimSpace(m[1])
	}
	if m := attemptRe.FindStringSubmatch(content); m != nil {
		e.AttemptID = m[1]
	}

	// Body starts at the package clause.
	idx := strings.Index(content, "\npackage ")
	if idx < 0 {
		return nil, fmt.Errorf("entry file has no package clause")
	}
	body := content[idx+1:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		e.Package = strings.TrimPrefix(body[:nl], "package ")
		e.Imports, e.Code = splitImportBlock(strings.TrimSpace(body[nl+1:]))
	}
	return e, nil
}

// splitImportBlock inverts Render's layout: a grouped import block directly
// under the package clause is pulled back into the Imports field so the
// installer can merge it instead of splicing it mid-file.
func splitImportBlock(body string) (imports []string, code string) {
	if !strings.HasPrefix(body, "import (") {
		return nil, body
	}
	end := strings.Index(body, "\n)")
	if end < 0 {
		return nil, body
	}
	for _, line := range strings.Split(body[len("import ("):end], "\n") {
		path := strings.Trim(strings.TrimSpace(line), `"`)
		if path != "" {
			imports = append(imports, path)
		}
	}
	return imports, strings.TrimSpace(body[end+len("\n)"):])
}

// FullSource returns the implementation with its import block, ready for
// interpretation or splicing.
func (e *Entry) FullSource() string {
	if len(e.Imports) == 0 {
		return strings.TrimSpace(e.Code)
	}
	var sb strings.Builder
	sb.WriteString("import (\n")
	for _, imp := range e.Imports {
		fmt.Fprintf(&sb, "\t%q\n", imp)
	}
	sb.WriteString(")\n\n")
	sb.WriteString(strings.TrimSpace(e.Code))
	return sb.String()
}

func passedString(ok bool) string {
	if ok {
		return "PASSED"
	}
	return "FAILED"
}
