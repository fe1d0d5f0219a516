// Package session holds the device-local pointer to the active household and
// partner. It is never synchronized remotely: it survives restarts through the
// mirror database and is cleared only by an explicit reset.
package session

import (
	"database/sql"
	"fmt"
)

const (
	keyHouseholdID   = "household_id"
	keyHouseholdCode = "household_code"
	keyPartnerID     = "current_partner_id"
)

// Session is the resumable device state read at process start.
type Session struct {
	HouseholdID   string
	HouseholdCode string
	PartnerID     string
}

// Active reports whether the device has joined a household.
func (s Session) Active() bool { return s.HouseholdID != "" }

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load reads the persisted session. Missing keys yield empty fields.
func (s *Store) Load() (Session, error) {
	rows, err := s.db.Query(`SELECT key, value FROM session`)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	defer rows.Close()

	var sess Session
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Session{}, fmt.Errorf("scan session: %w", err)
		}
		switch key {
		case keyHouseholdID:
			sess.HouseholdID = value
		case keyHouseholdCode:
			sess.HouseholdCode = value
		case keyPartnerID:
			sess.PartnerID = value
		}
	}
	return sess, rows.Err()
}

// SetHousehold records the joined household's id and invite code.
func (s *Store) SetHousehold(id, code string) error {
	if err := s.set(keyHouseholdID, id); err != nil {
		return err
	}
	return s.set(keyHouseholdCode, code)
}

// SetPartner records which partner this device acts as.
func (s *Store) SetPartner(partnerID string) error {
	return s.set(keyPartnerID, partnerID)
}

// Reset forgets the household and partner selection.
func (s *Store) Reset() error {
	_, err := s.db.Exec(
		`DELETE FROM session WHERE key IN (?, ?, ?)`,
		keyHouseholdID, keyHouseholdCode, keyPartnerID,
	)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO session (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set session %s: %w", key, err)
	}
	return nil
}
