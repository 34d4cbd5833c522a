package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStateStore keeps registration state in the SQLite database that
// holds the partitions, so a restart restores the active version from disk.
type SQLiteStateStore struct {
	db *sql.DB
}

// NewSQLiteStateStore creates the registration table if needed.
func NewSQLiteStateStore(db *sql.DB) (*SQLiteStateStore, error) {
	if db == nil {
		return nil, errors.New("sqlite db cannot be nil")
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS registration (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		active_version TEXT NOT NULL,
		waiting_version TEXT NOT NULL,
		phase TEXT NOT NULL,
		claimed INTEGER NOT NULL,
		last_update INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("init registration table: %w", err)
	}
	return &SQLiteStateStore{db: db}, nil
}

// Load implements StateStore.
func (s *SQLiteStateStore) Load(ctx context.Context) (*RegistrationState, error) {
	var (
		state      RegistrationState
		phase      string
		claimed    int
		lastUpdate int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT active_version, waiting_version, phase, claimed, last_update FROM registration WHERE id = 1",
	).Scan(&state.ActiveVersion, &state.WaitingVersion, &phase, &claimed, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return &RegistrationState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load registration state: %w", err)
	}

	state.Phase = Phase(phase)
	state.Claimed = claimed != 0
	if lastUpdate != 0 {
		state.LastUpdate = time.Unix(0, lastUpdate).UTC()
	}
	return &state, nil
}

// Save implements StateStore.
func (s *SQLiteStateStore) Save(ctx context.Context, state *RegistrationState) error {
	var lastUpdate int64
	if !state.LastUpdate.IsZero() {
		lastUpdate = state.LastUpdate.UnixNano()
	}
	claimed := 0
	if state.Claimed {
		claimed = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO registration (id, active_version, waiting_version, phase, claimed, last_update)
		VALUES (1, ?, ?, ?, ?, ?)`,
		state.ActiveVersion, state.WaitingVersion, string(state.Phase), claimed, lastUpdate)
	if err != nil {
		return fmt.Errorf("store registration state in sqlite: %w", err)
	}
	return nil
}
