package cache

import "time"

// UpsertMessage inserts or updates a message (idempotent on chat_id + id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, sender_name, content, attachments, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			attachments = excluded.attachments`,
		m.ID, m.ChatID, m.SenderID, m.SenderName, m.Content, m.Attachments, m.CreatedAt, now)
	return err
}

// ListMessages returns cached messages for a chat using keyset pagination
// by creation time, newest first.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT rowid, id, chat_id, sender_id, sender_name, content, attachments, created_at
		FROM messages
		WHERE chat_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RowID, &m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.Content, &m.Attachments, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
