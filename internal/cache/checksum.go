package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"jitgen/internal/declare"
)

// Checksum identifies a unique (declaration, context, tests) triple.
// Any change to the declaration source, a reachable type definition, or a
// test case invalidates prior entries and forces regeneration.
func Checksum(decl declare.Declaration, bundle declare.ContextBundle, testSources []string) string {
	h := sha256.New()
	io.WriteString(h, decl.Source)
	io.WriteString(h, "\x00")
	io.WriteString(h, bundle.Combined())
	for _, ts := range testSources {
		io.WriteString(h, "\x00")
		io.WriteString(h, ts)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint is a fast content hash used for per-file staleness probes in
// the index; the sha256 checksum remains the entry identity.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// FileFingerprints hashes each context file the bundle draws from. Missing
// files fingerprint to zero, which never matches a stored probe.
func FileFingerprints(bundle declare.ContextBundle) map[string]uint64 {
	fps := make(map[string]uint64)
	for _, f := range bundle.Files() {
		data, err := os.ReadFile(f)
		if err != nil {
			fps[f] = 0
			continue
		}
		fps[f] = Fingerprint(data)
	}
	return fps
}
