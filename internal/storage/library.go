package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Media types accepted by the library.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// MediaItem is a generated or uploaded asset kept in the library.
type MediaItem struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Src       string    `json:"src"`
	Prompt    string    `json:"prompt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PromptItem is one remembered prompt.
type PromptItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddMedia stores item and trims the library. Images are capped at
// maxImages; only the newest video is kept.
func (s *Store) AddMedia(item MediaItem, maxImages int) (MediaItem, error) {
	if s == nil {
		return item, errors.New("store not initialized")
	}
	if item.Type != MediaImage && item.Type != MediaVideo {
		return item, fmt.Errorf("unknown media type %q", item.Type)
	}
	if strings.TrimSpace(item.Src) == "" {
		return item, errors.New("media src is empty")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return item, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO media_items (id, media_type, src, prompt, created_at) VALUES (?, ?, ?, ?, ?);`,
		item.ID, item.Type, item.Src, item.Prompt, item.CreatedAt); err != nil {
		return item, err
	}
	keep := maxImages
	if item.Type == MediaVideo {
		keep = 1
	}
	if _, err := tx.Exec(`DELETE FROM media_items WHERE media_type=? AND rowid NOT IN (
            SELECT rowid FROM media_items WHERE media_type=? ORDER BY rowid DESC LIMIT ?);`,
		item.Type, item.Type, keep); err != nil {
		return item, err
	}
	return item, tx.Commit()
}

// Media lists the library, newest first.
func (s *Store) Media() ([]MediaItem, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, media_type, src, prompt, created_at FROM media_items ORDER BY rowid DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []MediaItem{}
	for rows.Next() {
		var it MediaItem
		var prompt sql.NullString
		if err := rows.Scan(&it.ID, &it.Type, &it.Src, &prompt, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Prompt = prompt.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// AddPrompt remembers text unless it is already in the history, then trims
// the history to maxPrompts. The returned bool is false for duplicates.
func (s *Store) AddPrompt(text string, maxPrompts int) (PromptItem, bool, error) {
	if s == nil {
		return PromptItem{}, false, errors.New("store not initialized")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return PromptItem{}, false, errors.New("prompt is empty")
	}
	item := PromptItem{ID: uuid.NewString(), Text: text, CreatedAt: time.Now().UTC()}

	tx, err := s.DB.Begin()
	if err != nil {
		return item, false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT OR IGNORE INTO prompt_history (id, text, created_at) VALUES (?, ?, ?);`, item.ID, item.Text, item.CreatedAt)
	if err != nil {
		return item, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return item, false, nil
	}
	if _, err := tx.Exec(`DELETE FROM prompt_history WHERE rowid NOT IN (
            SELECT rowid FROM prompt_history ORDER BY rowid DESC LIMIT ?);`, maxPrompts); err != nil {
		return item, false, err
	}
	return item, true, tx.Commit()
}

// Prompts lists the prompt history, newest first.
func (s *Store) Prompts() ([]PromptItem, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, text, created_at FROM prompt_history ORDER BY rowid DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []PromptItem{}
	for rows.Next() {
		var it PromptItem
		if err := rows.Scan(&it.ID, &it.Text, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
