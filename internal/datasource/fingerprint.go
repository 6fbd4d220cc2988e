package datasource

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// Fingerprint derives the tracking identity of a finding from the
// vulnerability, the affected package and the project. The installed version
// is deliberately left out so that a version bump of a still-vulnerable
// package keeps its tracked finding.
func Fingerprint(vulnerabilityID, pkg string, p model.Project) string {
	h := sha256.New()
	for _, part := range []string{vulnerabilityID, pkg, p.Key()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintOf is Fingerprint applied to a raw finding.
func FingerprintOf(f model.RawFinding) string {
	return Fingerprint(f.VulnerabilityID, f.Package, f.Project)
}
