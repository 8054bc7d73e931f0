package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/apiary/apiary/pkg/hive"
)

// Recorder writes resolution outcomes into the artifact registry.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// BeginEvaluation records the start of a hive resolution and returns the
// evaluation ID subsequent records attach to.
func (r *Recorder) BeginEvaluation(ctx context.Context, hiveName string, sourceFiles []string) (string, error) {
	files, err := json.Marshal(sourceFiles)
	if err != nil {
		return "", fmt.Errorf("failed to encode source files: %w", err)
	}

	eval := &Evaluation{
		ID:          uuid.New().String(),
		HiveName:    hiveName,
		SourceFiles: string(files),
		Status:      EvaluationStatusRunning,
		StartedAt:   time.Now(),
		CreatedAt:   time.Now(),
	}

	if err := r.store.CreateEvaluation(ctx, eval); err != nil {
		return "", err
	}

	return eval.ID, nil
}

// CompleteEvaluation records the outcome of a resolution: one artifact row
// per successfully resolved node, and the final status with node and error
// counts. An evaluation with any failed node is marked failed but keeps the
// artifacts its healthy nodes produced.
func (r *Recorder) CompleteEvaluation(ctx context.Context, evaluationID string, rh *hive.ResolvedHive) error {
	for _, name := range sortedNodeNames(rh) {
		node := rh.Nodes[name]
		if node.BuildArtifact.IsZero() {
			continue
		}
		artifact := &Artifact{
			ID:           uuid.New().String(),
			EvaluationID: evaluationID,
			Node:         name,
			Path:         node.BuildArtifact.Path,
			ConfigHash:   node.BuildArtifact.ConfigHash,
			CreatedAt:    time.Now(),
		}
		if err := r.store.CreateArtifact(ctx, artifact); err != nil {
			return err
		}
	}

	status := EvaluationStatusCompleted
	if len(rh.Errors) > 0 {
		status = EvaluationStatusFailed
	}

	total := len(rh.Nodes) + len(rh.Errors)
	return r.store.UpdateEvaluationStatus(ctx, evaluationID, status, total, len(rh.Errors))
}

// RecordSelection records a built selection bundle.
func (r *Recorder) RecordSelection(ctx context.Context, evaluationID string, result *hive.SelectionResult) error {
	nodes := make([]string, 0, len(result.Artifacts))
	for name := range result.Artifacts {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)
	encoded, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to encode selection nodes: %w", err)
	}

	sel := &Selection{
		ID:           uuid.New().String(),
		EvaluationID: evaluationID,
		Bundle:       result.Bundle,
		Nodes:        string(encoded),
		CreatedAt:    time.Now(),
	}

	return r.store.CreateSelection(ctx, sel)
}

// sortedNodeNames returns the resolved node names in stable order so the
// artifact rows of an evaluation insert deterministically.
func sortedNodeNames(rh *hive.ResolvedHive) []string {
	names := make([]string, 0, len(rh.Nodes))
	for name := range rh.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
