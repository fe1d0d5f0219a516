package mirror

import (
	"database/sql"
	"fmt"

	"github.com/florianbuchner/whodoes/internal/model"
)

const favoriteCols = `id, partner_id, task_id, created_at, synced`

func scanFavorite(scanner interface{ Scan(...any) error }) (*Favorite, error) {
	var f Favorite
	err := scanner.Scan(&f.ID, &f.PartnerID, &f.TaskID, &f.CreatedAt, &f.Synced)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) PutFavorite(f model.Favorite, synced bool) error {
	_, err := s.db.Exec(
		`INSERT INTO favorites (`+favoriteCols+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			partner_id = excluded.partner_id,
			task_id = excluded.task_id,
			created_at = excluded.created_at,
			synced = excluded.synced`,
		f.ID, f.PartnerID, f.TaskID, f.CreatedAt.UTC(), synced,
	)
	if err != nil {
		return fmt.Errorf("put favorite: %w", err)
	}
	return nil
}

func (s *Store) MarkFavoriteSynced(id string) error {
	_, err := s.db.Exec(`UPDATE favorites SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark favorite synced: %w", err)
	}
	return nil
}

func (s *Store) GetFavorite(partnerID, taskID string) (*Favorite, error) {
	row := s.db.QueryRow(
		`SELECT `+favoriteCols+` FROM favorites WHERE partner_id = ? AND task_id = ?`,
		partnerID, taskID,
	)
	f, err := scanFavorite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get favorite: %w", err)
	}
	return f, nil
}

func (s *Store) DeleteFavorite(id string) error {
	_, err := s.db.Exec(`DELETE FROM favorites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return nil
}

func (s *Store) UnsyncedFavorites() ([]model.Favorite, error) {
	rows, err := s.db.Query(`SELECT ` + favoriteCols + ` FROM favorites WHERE synced = 0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unsynced favorites: %w", err)
	}
	defer rows.Close()

	var favorites []model.Favorite
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favorites = append(favorites, f.Favorite)
	}
	return favorites, rows.Err()
}

// FavoriteTaskIDs returns the set of task ids the partner has favorited.
func (s *Store) FavoriteTaskIDs(partnerID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT task_id FROM favorites WHERE partner_id = ?`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		ids[taskID] = true
	}
	return ids, rows.Err()
}
