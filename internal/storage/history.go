package storage

import (
	"fmt"

	"github.com/petervdpas/voipcore/internal/history"
)

// HistoryStore persists terminated-call records to the history table.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore wraps db as a HistoryStore.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append inserts a single history entry, once, keyed by call id.
func (s *HistoryStore) Append(e history.Entry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	_, err := s.db.db.Exec(
		`INSERT INTO history
			(call_id, account_id, history_state, peer_name, peer_number,
			 start_ts, stop_ts, recording_path, conf_id, added_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CallID, e.AccountID, e.HistoryState, e.PeerName, e.PeerNumber,
		e.StartTS, e.StopTS, e.RecordingPath, e.ConfID, e.AddedTS,
	)
	if err != nil {
		return fmt.Errorf("storage: append history entry: %w", err)
	}
	return nil
}

// All returns every persisted history entry, newest start_ts first.
func (s *HistoryStore) All() ([]history.Entry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	rows, err := s.db.db.Query(
		`SELECT call_id, account_id, history_state, peer_name, peer_number,
		        start_ts, stop_ts, recording_path, conf_id, added_ts
		 FROM history ORDER BY start_ts DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var e history.Entry
		if err := rows.Scan(
			&e.CallID, &e.AccountID, &e.HistoryState, &e.PeerName, &e.PeerNumber,
			&e.StartTS, &e.StopTS, &e.RecordingPath, &e.ConfID, &e.AddedTS,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ByPopularity returns peer_number -> call count, the persisted equivalent
// of callengine.Registry.ByPopularity, for history surviving process
// restarts.
func (s *HistoryStore) ByPopularity() (map[string]int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	rows, err := s.db.db.Query(
		`SELECT peer_number, COUNT(*) FROM history GROUP BY peer_number ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var peer string
		var n int
		if err := rows.Scan(&peer, &n); err != nil {
			return nil, err
		}
		counts[peer] = n
	}
	return counts, rows.Err()
}
