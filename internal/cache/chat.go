package cache

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a directory entry.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, counterpart_id, counterpart_name, product_id, product_title, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counterpart_id = excluded.counterpart_id,
			counterpart_name = excluded.counterpart_name,
			product_id = excluded.product_id,
			product_title = excluded.product_title,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.ID, c.CounterpartID, c.CounterpartName, c.ProductID, c.ProductTitle,
		c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// ListChats returns directory entries sorted by last activity descending.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, counterpart_id, counterpart_name, product_id, product_title, unread_count, last_message_at, last_message_preview
		FROM chats
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.CounterpartID, &c.CounterpartName, &c.ProductID, &c.ProductTitle, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single directory entry, or nil when absent.
func (db *DB) GetChat(id string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT id, counterpart_id, counterpart_name, product_id, product_title, unread_count, last_message_at, last_message_preview
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.CounterpartID, &c.CounterpartName, &c.ProductID, &c.ProductTitle, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteChat removes a directory entry and its cached messages.
func (db *DB) DeleteChat(id string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	return err
}
