package hive

import "fmt"

// BundlePrefix names the overall selection output bundle together with the
// hive name.
const BundlePrefix = "apiary"

// SelectionResult packages the artifact references of a caller-selected
// subset of nodes. Produced per request, never mutated. The artifact map is
// keyed by node name, so its serialized form is independent of the order
// the selection was given in.
type SelectionResult struct {
	// HiveName is the hive the selection was built from.
	HiveName string `json:"hiveName"`

	// Bundle is the name of the overall output bundle.
	Bundle string `json:"bundle"`

	// Artifacts maps selected node names to their artifact paths.
	Artifacts map[string]string `json:"artifacts"`
}

// BuildSelection packages the artifacts of the named nodes. Names that do
// not exist in the hive are silently ignored, so a selection may shrink
// over time without failing. Selecting a node whose build previously failed
// is an error: the selection must never reference an artifact that was not
// produced.
func BuildSelection(rh *ResolvedHive, names []string) (*SelectionResult, error) {
	result := &SelectionResult{
		HiveName:  rh.Hive.Meta.Name,
		Bundle:    fmt.Sprintf("%s-%s", BundlePrefix, rh.Hive.Meta.Name),
		Artifacts: make(map[string]string),
	}

	for _, name := range names {
		if cause, failed := rh.Errors[name]; failed {
			e := NewUnresolvedArtifact(name)
			e.Err = cause
			return nil, e
		}

		node, ok := rh.Nodes[name]
		if !ok {
			continue
		}
		if node.BuildArtifact.IsZero() {
			return nil, NewUnresolvedArtifact(name)
		}
		result.Artifacts[name] = node.BuildArtifact.Path
	}

	return result, nil
}
