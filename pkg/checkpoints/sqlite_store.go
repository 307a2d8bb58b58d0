package checkpoints

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avi3tal/graphengine/pkg/types"
)

// SQLiteStore persists checkpoints in a SQLite database, one row per run.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath and creates the schema.
// It enables WAL mode for concurrency and durability.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// A single connection serializes writers instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	// The checkpoint itself is stored as a JSON blob; the key and the
	// suspension token are columns for lookups.
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		graph_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		node_id TEXT,
		token TEXT,
		created_at DATETIME NOT NULL,
		payload JSON NOT NULL,
		PRIMARY KEY (graph_id, run_id)
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_token ON checkpoints(token);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, checkpoint *types.Checkpoint) error {
	payload, err := checkpoint.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	query := `
	INSERT INTO checkpoints (graph_id, run_id, checkpoint_id, node_id, token, created_at, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(graph_id, run_id) DO UPDATE SET
		checkpoint_id = excluded.checkpoint_id,
		node_id = excluded.node_id,
		token = excluded.token,
		created_at = excluded.created_at,
		payload = excluded.payload
	`
	_, err = s.db.ExecContext(ctx, query,
		checkpoint.GraphID,
		checkpoint.RunID,
		checkpoint.ID,
		checkpoint.NodeID,
		checkpoint.Token,
		checkpoint.CreatedAt,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", checkpoint.Key(), err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key types.CheckpointKey) (*types.Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE graph_id = ? AND run_id = ?`,
		key.GraphID, key.RunID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", types.ErrCheckpointNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", key, err)
	}
	return types.UnmarshalCheckpoint([]byte(payload))
}

// LoadByToken returns the suspension checkpoint waiting on token.
func (s *SQLiteStore) LoadByToken(ctx context.Context, token string) (*types.Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM checkpoints WHERE token = ?`, token).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token %s", types.ErrCheckpointNotFound, token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint by token: %w", err)
	}
	return types.UnmarshalCheckpoint([]byte(payload))
}

func (s *SQLiteStore) Delete(ctx context.Context, key types.CheckpointKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE graph_id = ? AND run_id = ?`,
		key.GraphID, key.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, graphID string) ([]types.CheckpointKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT graph_id, run_id FROM checkpoints WHERE graph_id = ? ORDER BY run_id`,
		graphID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	keys := make([]types.CheckpointKey, 0)
	for rows.Next() {
		var key types.CheckpointKey
		if err := rows.Scan(&key.GraphID, &key.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return keys, nil
}
