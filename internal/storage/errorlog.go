package storage

import (
	"database/sql"
	"errors"
	"time"
)

// ErrorRecord is a persisted failure.
type ErrorRecord struct {
	ID        int64     `json:"id"`
	Context   string    `json:"context"`
	UserID    string    `json:"userId,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordError appends a failure to the error log. A nil error is ignored.
func (s *Store) RecordError(context, userID string, failure error) error {
	if s == nil || failure == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO error_log (context, user_id, message) VALUES (?, ?, ?);`, context, userID, failure.Error())
	return err
}

// RecentErrors returns the latest error log rows up to limit.
func (s *Store) RecentErrors(limit int) ([]ErrorRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, context, user_id, message, created_at FROM error_log ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ErrorRecord
	for rows.Next() {
		var rec ErrorRecord
		var user sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Context, &user, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.UserID = user.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
