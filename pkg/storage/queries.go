package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SessionQuery represents query parameters for retrieving sessions
type SessionQuery struct {
	ID     int64
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Status string // "" for all
}

// SessionStats represents database statistics
type SessionStats struct {
	TotalSessions int       `json:"total_sessions"`
	TotalFailures int       `json:"total_failures"`
	TotalSeconds  float64   `json:"total_seconds"`
	LastCleanup   time.Time `json:"last_cleanup"`
}

// GetSessions retrieves sessions based on query parameters, newest first
func (ss *SessionStore) GetSessions(query SessionQuery) ([]SessionRecord, error) {
	var args []interface{}
	sqlQuery := `
		SELECT id, started_at, stopped_at, backend, device, sample_rate, format,
			   pi, ps, rt, source, status, error, produced, underruns, config_json
		FROM sessions
		WHERE 1=1
	`

	if query.ID != 0 {
		sqlQuery += " AND id = ?"
		args = append(args, query.ID)
	}
	if query.Since != nil {
		sqlQuery += " AND started_at >= ?"
		args = append(args, *query.Since)
	}
	if query.Until != nil {
		sqlQuery += " AND started_at <= ?"
		args = append(args, *query.Until)
	}
	if query.Status != "" {
		sqlQuery += " AND status = ?"
		args = append(args, query.Status)
	}

	sqlQuery += " ORDER BY id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := ss.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var stoppedAt sql.NullTime
		var cfgJSON string
		err := rows.Scan(
			&rec.ID,
			&rec.StartedAt,
			&stoppedAt,
			&rec.Backend,
			&rec.Device,
			&rec.SampleRate,
			&rec.Format,
			&rec.PI,
			&rec.PS,
			&rec.RT,
			&rec.Source,
			&rec.Status,
			&rec.Error,
			&rec.Produced,
			&rec.Underruns,
			&cfgJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if stoppedAt.Valid {
			t := stoppedAt.Time
			rec.StoppedAt = &t
		}
		if err := json.Unmarshal([]byte(cfgJSON), &rec.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config of session %d: %w", rec.ID, err)
		}
		sessions = append(sessions, rec)
	}

	return sessions, rows.Err()
}

// GetRecentSessions retrieves the most recent sessions
func (ss *SessionStore) GetRecentSessions(limit int) ([]SessionRecord, error) {
	return ss.GetSessions(SessionQuery{Limit: limit})
}

// GetSession retrieves one session by id
func (ss *SessionStore) GetSession(id int64) (*SessionRecord, error) {
	sessions, err := ss.GetSessions(SessionQuery{ID: id})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %d not found", id)
	}
	return &sessions[0], nil
}

// GetSessionStats retrieves database statistics
func (ss *SessionStore) GetSessionStats() (*SessionStats, error) {
	var stats SessionStats
	var lastCleanup sql.NullTime

	err := ss.db.QueryRow(`
		SELECT total_sessions, total_failures, total_seconds, last_cleanup
		FROM session_stats WHERE id = 1
	`).Scan(&stats.TotalSessions, &stats.TotalFailures, &stats.TotalSeconds, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}
	return &stats, nil
}

// GetSessionCount returns the number of sessions kept
func (ss *SessionStore) GetSessionCount() (int, error) {
	var count int
	err := ss.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count)
	return count, err
}
