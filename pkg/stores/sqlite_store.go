package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateEvaluation creates a new evaluation record
func (s *SQLiteStore) CreateEvaluation(ctx context.Context, eval *Evaluation) error {
	query := `
		INSERT INTO evaluations (id, hive_name, source_files, status, node_count, error_count, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		eval.ID,
		eval.HiveName,
		eval.SourceFiles,
		eval.Status,
		eval.NodeCount,
		eval.ErrorCount,
		eval.StartedAt,
		eval.CompletedAt,
		eval.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create evaluation: %w", err)
	}

	return nil
}

// GetEvaluation retrieves an evaluation by ID
func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	query := `
		SELECT id, hive_name, source_files, status, node_count, error_count, started_at, completed_at, created_at
		FROM evaluations
		WHERE id = ?
	`

	eval := &Evaluation{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&eval.ID,
		&eval.HiveName,
		&eval.SourceFiles,
		&eval.Status,
		&eval.NodeCount,
		&eval.ErrorCount,
		&eval.StartedAt,
		&eval.CompletedAt,
		&eval.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evaluation not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}

	return eval, nil
}

// UpdateEvaluationStatus updates the status and counters of an evaluation
func (s *SQLiteStore) UpdateEvaluationStatus(ctx context.Context, id string, status EvaluationStatus, nodeCount, errorCount int) error {
	query := `
		UPDATE evaluations
		SET status = ?, node_count = ?, error_count = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt *time.Time
	if status == EvaluationStatusCompleted || status == EvaluationStatusFailed {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, nodeCount, errorCount, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update evaluation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("evaluation not found: %s", id)
	}

	return nil
}

// ListEvaluations lists evaluations with an optional hive filter and pagination
func (s *SQLiteStore) ListEvaluations(ctx context.Context, hiveName *string, limit, offset int) ([]*Evaluation, error) {
	query := `
		SELECT id, hive_name, source_files, status, node_count, error_count, started_at, completed_at, created_at
		FROM evaluations
		WHERE (? IS NULL OR hive_name = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, hiveName, hiveName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []*Evaluation{}
	for rows.Next() {
		eval := &Evaluation{}
		err := rows.Scan(
			&eval.ID,
			&eval.HiveName,
			&eval.SourceFiles,
			&eval.Status,
			&eval.NodeCount,
			&eval.ErrorCount,
			&eval.StartedAt,
			&eval.CompletedAt,
			&eval.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, eval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return evals, nil
}

// DeleteEvaluation deletes an evaluation and its artifacts by ID
func (s *SQLiteStore) DeleteEvaluation(ctx context.Context, id string) error {
	query := `DELETE FROM evaluations WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete evaluation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("evaluation not found: %s", id)
	}

	return nil
}

// CreateArtifact creates a new artifact record
func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact *Artifact) error {
	query := `
		INSERT INTO artifacts (id, evaluation_id, node, path, config_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		artifact.ID,
		artifact.EvaluationID,
		artifact.Node,
		artifact.Path,
		artifact.ConfigHash,
		artifact.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}

	return nil
}

// GetArtifact retrieves an artifact by evaluation and node
func (s *SQLiteStore) GetArtifact(ctx context.Context, evaluationID, node string) (*Artifact, error) {
	query := `
		SELECT id, evaluation_id, node, path, config_hash, created_at
		FROM artifacts
		WHERE evaluation_id = ? AND node = ?
	`

	artifact := &Artifact{}
	err := s.db.QueryRowContext(ctx, query, evaluationID, node).Scan(
		&artifact.ID,
		&artifact.EvaluationID,
		&artifact.Node,
		&artifact.Path,
		&artifact.ConfigHash,
		&artifact.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact not found: %s/%s", evaluationID, node)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	return artifact, nil
}

// ListArtifactsByEvaluation lists all artifacts produced by an evaluation
func (s *SQLiteStore) ListArtifactsByEvaluation(ctx context.Context, evaluationID string) ([]*Artifact, error) {
	query := `
		SELECT id, evaluation_id, node, path, config_hash, created_at
		FROM artifacts
		WHERE evaluation_id = ?
		ORDER BY node ASC
	`

	rows, err := s.db.QueryContext(ctx, query, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []*Artifact{}
	for rows.Next() {
		artifact := &Artifact{}
		err := rows.Scan(
			&artifact.ID,
			&artifact.EvaluationID,
			&artifact.Node,
			&artifact.Path,
			&artifact.ConfigHash,
			&artifact.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}

// LatestArtifact retrieves the most recently produced artifact for a node
// across all evaluations of a hive
func (s *SQLiteStore) LatestArtifact(ctx context.Context, hiveName, node string) (*Artifact, error) {
	query := `
		SELECT a.id, a.evaluation_id, a.node, a.path, a.config_hash, a.created_at
		FROM artifacts a
		JOIN evaluations e ON e.id = a.evaluation_id
		WHERE e.hive_name = ? AND a.node = ?
		ORDER BY a.created_at DESC
		LIMIT 1
	`

	artifact := &Artifact{}
	err := s.db.QueryRowContext(ctx, query, hiveName, node).Scan(
		&artifact.ID,
		&artifact.EvaluationID,
		&artifact.Node,
		&artifact.Path,
		&artifact.ConfigHash,
		&artifact.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no artifact recorded for %s/%s", hiveName, node)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest artifact: %w", err)
	}

	return artifact, nil
}

// CreateSelection creates a new selection record
func (s *SQLiteStore) CreateSelection(ctx context.Context, sel *Selection) error {
	query := `
		INSERT INTO selections (id, evaluation_id, bundle, nodes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sel.ID,
		sel.EvaluationID,
		sel.Bundle,
		sel.Nodes,
		sel.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create selection: %w", err)
	}

	return nil
}

// ListSelectionsByEvaluation lists all selections built from an evaluation
func (s *SQLiteStore) ListSelectionsByEvaluation(ctx context.Context, evaluationID string) ([]*Selection, error) {
	query := `
		SELECT id, evaluation_id, bundle, nodes, created_at
		FROM selections
		WHERE evaluation_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list selections: %w", err)
	}
	defer rows.Close()

	selections := []*Selection{}
	for rows.Next() {
		sel := &Selection{}
		err := rows.Scan(
			&sel.ID,
			&sel.EvaluationID,
			&sel.Bundle,
			&sel.Nodes,
			&sel.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan selection: %w", err)
		}
		selections = append(selections, sel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating selections: %w", err)
	}

	return selections, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
