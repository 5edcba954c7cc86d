package cache

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"
	"time"
)

func sampleEntry() *Entry {
	return &Entry{
		Checksum:    "d4735e3a265e16eee03f59718b9b5d03019c07d8b6c51f90da3a666eec13ab35",
		Name:        "PrimeFactors",
		DeclFile:    "pkg/mathx/factors.go",
		Package:     "mathx",
		Version:     2,
		CreatedAt:   time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		TestsPassed: true,
		AttemptID:   "5f2b2c1e-0000-0000-0000-000000000000",
		Trace:       []string{"Trial division up to sqrt(n).", "Append remaining prime if > 1."},
		Imports:     []string{"sort"},
		Code:        "func PrimeFactors(n int) []int {\n\tvar out []int\n\tfor d := 2; d*d <= n; d++ {\n\t\tfor n%d == 0 {\n\t\t\tout = append(out, d)\n\t\t\tn /= d\n\t\t}\n\t}\n\tif n > 1 {\n\t\tout = append(out, n)\n\t}\n\tsort.Ints(out)\n\treturn out\n}",
	}
}

func TestEntryRenderIsValidGo(t *testing.T) {
	content := sampleEntry().Render()

	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "entry.go", content, parser.ParseComments); err != nil {
		t.Fatalf("rendered entry does not parse as Go: %v\n%s", err, content)
	}

	for _, want := range []string{
		"// Code generated by jitgen. DO NOT EDIT.",
		"// Version: 2 - Generated on 2026-03-14T09:26:53Z",
		"// Tests Passed: PASSED",
		"// Declaration File: pkg/mathx/factors.go",
		"// Implementation Checksum: d4735e3a",
		"// Chain of Thought:",
		"//   Trial division up to sqrt(n).",
		"package mathx",
		"\t\"sort\"",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("rendered entry missing %q", want)
		}
	}
}

func TestParseEntryRoundTrip(t *testing.T) {
	orig := sampleEntry()
	parsed, err := ParseEntry(orig.Render())
	if err != nil {
		t.Fatalf("ParseEntry failed: %v", err)
	}

	if parsed.Checksum != orig.Checksum {
		t.Errorf("Checksum: got %s, want %s", parsed.Checksum, orig.Checksum)
	}
	if parsed.Version != orig.Version {
		t.Errorf("Version: got %d, want %d", parsed.Version, orig.Version)
	}
	if !parsed.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("CreatedAt: got %v, want %v", parsed.CreatedAt, orig.CreatedAt)
	}
	if !parsed.TestsPassed {
		t.Error("TestsPassed lost in round trip")
	}
	if parsed.DeclFile != orig.DeclFile {
		t.Errorf("DeclFile: got %s, want %s", parsed.DeclFile, orig.DeclFile)
	}
	if parsed.AttemptID != orig.AttemptID {
		t.Errorf("AttemptID: got %s, want %s", parsed.AttemptID, orig.AttemptID)
	}
	if parsed.Package != orig.Package {
		t.Errorf("Package: got %s, want %s", parsed.Package, orig.Package)
	}
	if len(parsed.Imports) != 1 || parsed.Imports[0] != "sort" {
		t.Errorf("Imports: got %v, want [sort]", parsed.Imports)
	}
	if !strings.HasPrefix(parsed.Code, "func PrimeFactors") {
		t.Errorf("Code must start at the implementation, got %q", parsed.Code)
	}
	if strings.Contains(parsed.Code, "import") {
		t.Errorf("Code must not retain the import block: %q", parsed.Code)
	}
}

func TestParseEntry_NoChecksum(t *testing.T) {
	if _, err := ParseEntry("package x\n\nfunc F() {}\n"); err == nil {
		t.Error("Expected error for entry without checksum header")
	}
}

func TestFullSource(t *testing.T) {
	e := sampleEntry()
	src := e.FullSource()
	if !strings.HasPrefix(src, "import (\n\t\"sort\"\n)") {
		t.Errorf("FullSource missing import block:\n%s", src)
	}
	if !strings.Contains(src, "func PrimeFactors") {
		t.Error("FullSource missing implementation")
	}

	e.Imports = nil
	if got := e.FullSource(); strings.Contains(got, "import") {
		t.Errorf("FullSource with no imports must not emit a block: %q", got)
	}
}
