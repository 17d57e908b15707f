// Package cache persists channel metadata and message history in a
// local sqlite database, so a fresh session can render conversations
// before the server replays them.
package cache

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"klique/models"
)

type Cache struct {
	conn *sql.DB
}

// New opens (and if needed creates) the cache database at path.
func New(path string) (*Cache, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "open cache db")
	}

	c := &Cache{conn: conn}
	if err := c.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *Cache) Close() error {
	return c.conn.Close()
}

func (c *Cache) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			started_by TEXT NOT NULL DEFAULT '',
			started_by_id INTEGER NOT NULL DEFAULT 0,
			image_url TEXT NOT NULL DEFAULT '',
			is_owner INTEGER NOT NULL DEFAULT 0,
			is_speaker INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			sender_id INTEGER NOT NULL,
			sender_name TEXT NOT NULL,
			content TEXT NOT NULL,
			item_type TEXT NOT NULL DEFAULT 'text',
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent',
			PRIMARY KEY(channel_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, timestamp)`,
	}

	for _, query := range queries {
		if _, err := c.conn.Exec(query); err != nil {
			return errors.Wrap(err, "init cache schema")
		}
	}

	return nil
}

// SaveChannel upserts the metadata of a channel.
func (c *Cache) SaveChannel(info models.ChannelInfo) error {
	_, err := c.conn.Exec(
		`INSERT INTO channels (id, topic, description, started_by, started_by_id, image_url, is_owner, is_speaker)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			topic = excluded.topic,
			description = excluded.description,
			started_by = excluded.started_by,
			started_by_id = excluded.started_by_id,
			image_url = excluded.image_url,
			is_owner = excluded.is_owner,
			is_speaker = excluded.is_speaker`,
		info.ID, info.Topic, info.Description, info.StartedBy, info.StartedByID,
		info.ImageURL, info.IsOwner, info.IsSpeaker,
	)
	return errors.Wrap(err, "save channel")
}

// Channels lists the cached channels.
func (c *Cache) Channels() ([]models.ChannelInfo, error) {
	rows, err := c.conn.Query(
		`SELECT id, topic, description, started_by, started_by_id, image_url, is_owner, is_speaker
		 FROM channels ORDER BY topic`)
	if err != nil {
		return nil, errors.Wrap(err, "list channels")
	}
	defer rows.Close()

	var out []models.ChannelInfo
	for rows.Next() {
		var info models.ChannelInfo
		if err := rows.Scan(&info.ID, &info.Topic, &info.Description, &info.StartedBy,
			&info.StartedByID, &info.ImageURL, &info.IsOwner, &info.IsSpeaker); err != nil {
			return nil, errors.Wrap(err, "scan channel")
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// ReplaceHistory swaps the cached history of a channel for msgs in one
// transaction, used when the server replays the full history.
func (c *Cache) ReplaceHistory(channelID string, msgs []models.Message) error {
	tx, err := c.conn.Begin()
	if err != nil {
		return errors.Wrap(err, "begin history replace")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID); err != nil {
		return errors.Wrap(err, "clear history")
	}
	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO messages (id, channel_id, sender_id, sender_name, content, item_type, timestamp, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare history insert")
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if _, err := stmt.Exec(msg.ID, channelID, msg.SenderID, msg.SenderName,
			msg.Content, string(msg.Type), msg.Timestamp, string(msg.Status)); err != nil {
			return errors.Wrap(err, "insert history message")
		}
	}
	return errors.Wrap(tx.Commit(), "commit history replace")
}

// AppendMessage stores a single message. Re-delivery of an id already
// cached is a no-op update.
func (c *Cache) AppendMessage(msg models.Message) error {
	_, err := c.conn.Exec(
		`INSERT OR REPLACE INTO messages (id, channel_id, sender_id, sender_name, content, item_type, timestamp, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.SenderID, msg.SenderName,
		msg.Content, string(msg.Type), msg.Timestamp, string(msg.Status))
	return errors.Wrap(err, "append message")
}

// History returns up to limit newest messages of a channel in ascending
// timestamp order. limit <= 0 means no limit.
func (c *Cache) History(channelID string, limit int) ([]models.Message, error) {
	query := `SELECT id, sender_id, sender_name, content, item_type, timestamp, status
		 FROM messages WHERE channel_id = ? ORDER BY timestamp DESC`
	args := []any{channelID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.conn.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg := models.Message{ChannelID: channelID}
		var itemType, status string
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName,
			&msg.Content, &itemType, &msg.Timestamp, &status); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Type = models.ItemType(itemType)
		msg.Status = models.DeliveryStatus(status)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first query for the LIMIT, ascending order for display.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteChannel removes a channel and its cached history.
func (c *Cache) DeleteChannel(channelID string) error {
	tx, err := c.conn.Begin()
	if err != nil {
		return errors.Wrap(err, "begin channel delete")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID); err != nil {
		return errors.Wrap(err, "delete channel history")
	}
	if _, err := tx.Exec(`DELETE FROM channels WHERE id = ?`, channelID); err != nil {
		return errors.Wrap(err, "delete channel")
	}
	return errors.Wrap(tx.Commit(), "commit channel delete")
}
