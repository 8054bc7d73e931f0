package hive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// BuildArtifactRef is an opaque reference to the build system's output for
// one node's resolved configuration.
type BuildArtifactRef struct {
	// Path locates the artifact in the build store.
	Path string `json:"path"`

	// ConfigHash is the content hash of the configuration the artifact was
	// built from.
	ConfigHash string `json:"configHash"`
}

// IsZero reports whether no artifact was produced.
func (r BuildArtifactRef) IsZero() bool {
	return r.Path == ""
}

// Builder is the external build-system capability: it turns a fully merged
// node configuration into a build artifact reference. Implementations must
// be deterministic and pure given identical input.
type Builder interface {
	Build(ctx context.Context, node string, config map[string]interface{}) (BuildArtifactRef, error)
}

// StoreBuilder is the default Builder: it derives a content-addressed store
// path from the canonical JSON serialization of the configuration. Purely
// computational, so identical configurations always map to identical
// artifact references.
type StoreBuilder struct {
	// StoreDir is the artifact store root. Defaults to DefaultStoreDir.
	StoreDir string
}

// DefaultStoreDir is the artifact store root used when none is configured.
const DefaultStoreDir = "/apiary/store"

// Build implements Builder.
func (b *StoreBuilder) Build(_ context.Context, node string, config map[string]interface{}) (BuildArtifactRef, error) {
	dir := b.StoreDir
	if dir == "" {
		dir = DefaultStoreDir
	}

	// encoding/json serializes map keys sorted, so the hash is stable
	// across runs and independent of map iteration order.
	canonical, err := json.Marshal(config)
	if err != nil {
		return BuildArtifactRef{}, fmt.Errorf("serializing configuration for %s: %w", node, err)
	}

	sum := sha256.Sum256(canonical)
	hash := hex.EncodeToString(sum[:])

	return BuildArtifactRef{
		Path:       fmt.Sprintf("%s/%s-%s", dir, hash[:32], node),
		ConfigHash: hash,
	}, nil
}
