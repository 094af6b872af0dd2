package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dmcore/internal/dbx"
	"dmcore/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, content, encrypted, message_type, created_at, delivered_at, read_at`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.MessageType == "" {
		m.MessageType = domain.MessageTypeText
	}
	return dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		at := toMillis(m.CreatedAt)
		res, err := tx.ExecContext(ctx, `
			UPDATE conversations
			SET last_message_at = MAX(last_message_at, ?), updated_at = MAX(updated_at, ?)
			WHERE id = ? AND is_deleted = 0
		`, at, at, m.ConversationID)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if n == 0 {
			return domain.ErrNotFound
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, encrypted, message_type, created_at, delivered_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.ConversationID, m.SenderID, m.Content, m.Encrypted, m.MessageType,
			at, nullMillis(m.DeliveredAt), nullMillis(m.ReadAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert message: %w", domain.ErrConflict)
			}
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, conversationID)
	return scanMessage(row)
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET read_at = ?
		WHERE conversation_id = ? AND sender_id <> ? AND read_at IS NULL
	`, toMillis(at), conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND read_at IS NULL
	`, conversationID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		m                 domain.Message
		created           int64
		delivered, readAt sql.NullInt64
	)
	err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Encrypted, &m.MessageType,
		&created, &delivered, &readAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.CreatedAt = fromMillis(created)
	m.DeliveredAt = fromNullMillis(delivered)
	m.ReadAt = fromNullMillis(readAt)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	res := make([]*domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return res, nil
}
