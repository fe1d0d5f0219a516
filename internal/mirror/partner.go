package mirror

import (
	"database/sql"
	"fmt"

	"github.com/florianbuchner/whodoes/internal/model"
)

const partnerCols = `id, household_id, name, avatar_url, created_at, synced`

func scanPartner(scanner interface{ Scan(...any) error }) (*Partner, error) {
	var p Partner
	err := scanner.Scan(&p.ID, &p.HouseholdID, &p.Name, &p.Avatar, &p.CreatedAt, &p.Synced)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PutPartner(p model.Partner, synced bool) error {
	_, err := s.db.Exec(
		`INSERT INTO partners (`+partnerCols+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			household_id = excluded.household_id,
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			created_at = excluded.created_at,
			synced = excluded.synced`,
		p.ID, p.HouseholdID, p.Name, p.Avatar, p.CreatedAt.UTC(), synced,
	)
	if err != nil {
		return fmt.Errorf("put partner: %w", err)
	}
	return nil
}

func (s *Store) MarkPartnerSynced(id string) error {
	_, err := s.db.Exec(`UPDATE partners SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark partner synced: %w", err)
	}
	return nil
}

func (s *Store) GetPartner(id string) (*Partner, error) {
	row := s.db.QueryRow(`SELECT `+partnerCols+` FROM partners WHERE id = ?`, id)
	p, err := scanPartner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get partner: %w", err)
	}
	return p, nil
}

func (s *Store) UnsyncedPartners() ([]model.Partner, error) {
	rows, err := s.db.Query(`SELECT ` + partnerCols + ` FROM partners WHERE synced = 0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unsynced partners: %w", err)
	}
	defer rows.Close()

	var partners []model.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		partners = append(partners, p.Partner)
	}
	return partners, rows.Err()
}

// Partners lists the household's partners in join order.
func (s *Store) Partners(householdID string) ([]model.Partner, error) {
	rows, err := s.db.Query(
		`SELECT `+partnerCols+` FROM partners WHERE household_id = ? ORDER BY created_at ASC, id ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()

	var partners []model.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		partners = append(partners, p.Partner)
	}
	return partners, rows.Err()
}

func (s *Store) ReplacePartners(householdID string, partners []model.Partner) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM partners WHERE household_id = ? AND synced = 1`, householdID,
	); err != nil {
		return fmt.Errorf("clear synced partners: %w", err)
	}
	for _, p := range partners {
		if _, err := tx.Exec(
			`INSERT INTO partners (`+partnerCols+`) VALUES (?, ?, ?, ?, ?, 1)
			 ON CONFLICT(id) DO UPDATE SET
				household_id = excluded.household_id,
				name = excluded.name,
				avatar_url = excluded.avatar_url,
				created_at = excluded.created_at,
				synced = 1`,
			p.ID, p.HouseholdID, p.Name, p.Avatar, p.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("replace partner %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}
