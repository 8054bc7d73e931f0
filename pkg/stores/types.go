package stores

import (
	"context"
	"database/sql"
	"time"
)

// EvaluationStatus represents the status of a hive evaluation.
type EvaluationStatus string

const (
	EvaluationStatusRunning   EvaluationStatus = "running"
	EvaluationStatusCompleted EvaluationStatus = "completed"
	EvaluationStatusFailed    EvaluationStatus = "failed"
)

// Evaluation represents one full resolution of a hive.
type Evaluation struct {
	ID          string           `json:"id"`
	HiveName    string           `json:"hive_name"`
	SourceFiles string           `json:"source_files"` // JSON array of file paths
	Status      EvaluationStatus `json:"status"`
	NodeCount   int              `json:"node_count"`
	ErrorCount  int              `json:"error_count"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Artifact represents the build artifact one node produced during an
// evaluation.
type Artifact struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	Node         string    `json:"node"`
	Path         string    `json:"path"`
	ConfigHash   string    `json:"config_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Selection represents a bundle built from a subset of an evaluation's
// nodes.
type Selection struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	Bundle       string    `json:"bundle"`
	Nodes        string    `json:"nodes"` // JSON array of node names
	CreatedAt    time.Time `json:"created_at"`
}

// Store defines the interface for the artifact registry.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Evaluation operations
	CreateEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*Evaluation, error)
	UpdateEvaluationStatus(ctx context.Context, id string, status EvaluationStatus, nodeCount, errorCount int) error
	ListEvaluations(ctx context.Context, hiveName *string, limit, offset int) ([]*Evaluation, error)
	DeleteEvaluation(ctx context.Context, id string) error

	// Artifact operations
	CreateArtifact(ctx context.Context, artifact *Artifact) error
	GetArtifact(ctx context.Context, evaluationID, node string) (*Artifact, error)
	ListArtifactsByEvaluation(ctx context.Context, evaluationID string) ([]*Artifact, error)
	LatestArtifact(ctx context.Context, hiveName, node string) (*Artifact, error)

	// Selection operations
	CreateSelection(ctx context.Context, sel *Selection) error
	ListSelectionsByEvaluation(ctx context.Context, evaluationID string) ([]*Selection, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
