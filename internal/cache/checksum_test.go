package cache

import (
	"testing"

	"jitgen/internal/declare"
)

func TestChecksum_Invalidation(t *testing.T) {
	decl := declare.Declaration{
		Name:   "PrimeFactors",
		Source: "// PrimeFactors returns the prime factors of n.\nfunc PrimeFactors(n int) []int {\n}",
	}
	bundle := declare.ContextBundle{}
	tests := []string{"case: PrimeFactors(12)"}

	base := Checksum(decl, bundle, tests)
	if len(base) != 64 {
		t.Fatalf("Expected 64 hex chars, got %d: %s", len(base), base)
	}

	// Identical inputs reproduce the checksum.
	if again := Checksum(decl, bundle, tests); again != base {
		t.Error("Checksum is not deterministic")
	}

	// Changing the doc comment invalidates: the docstring is part of the
	// declaration source.
	docChanged := decl
	docChanged.Source = "// PrimeFactors returns prime factors, largest first.\nfunc PrimeFactors(n int) []int {\n}"
	if Checksum(docChanged, bundle, tests) == base {
		t.Error("Doc change must change the checksum")
	}

	// Changing a referenced type invalidates.
	withType := declare.ContextBundle{Types: []declare.TypeSource{
		{Name: "Factor", Source: "type Factor int"},
	}}
	if Checksum(decl, withType, tests) == base {
		t.Error("Context change must change the checksum")
	}

	// Changing test cases invalidates.
	if Checksum(decl, bundle, []string{"case: PrimeFactors(100)"}) == base {
		t.Error("Test change must change the checksum")
	}

	// Adding an empty test still differs from no tests: the separator is
	// part of the hash, so the set size matters.
	if Checksum(decl, bundle, []string{""}) == Checksum(decl, bundle, nil) {
		t.Error("Empty test case must differ from no test cases")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("type Ring struct{}"))
	b := Fingerprint([]byte("type Ring struct{ N int }"))
	if a == b {
		t.Error("Different content must fingerprint differently")
	}
	if a != Fingerprint([]byte("type Ring struct{}")) {
		t.Error("Fingerprint is not deterministic")
	}
}
