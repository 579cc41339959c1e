// Package jobs derives identifiers for pipeline runs and persisted artifacts.
package jobs

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// ArtifactIDPrefix prefixes every persisted artifact id.
const ArtifactIDPrefix = "art-"

// artifactHashLen is the number of hex characters kept from the digest.
const artifactHashLen = 24

// RunIDPrefix prefixes every pipeline run id.
const RunIDPrefix = "run-"

// GenerateID creates a random id with the given prefix, e.g. "run-".
func GenerateID(prefix string) string {
	return prefix + uuid.NewString()
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return GenerateID(RunIDPrefix)
}

// DeriveID returns the deterministic id for an (owner, source location)
// pair: prefix + sha256(owner + "_" + sourceKey), truncated. The same pair
// always yields the same id, which is what makes persistence idempotent.
func DeriveID(prefix, ownerID, sourceKey string) string {
	sum := sha256.Sum256([]byte(ownerID + "_" + sourceKey))
	return prefix + hex.EncodeToString(sum[:])[:artifactHashLen]
}

// ArtifactID is DeriveID with ArtifactIDPrefix.
func ArtifactID(ownerID, sourceKey string) string {
	return DeriveID(ArtifactIDPrefix, ownerID, sourceKey)
}
