package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dmcore/internal/dbx"
	"dmcore/internal/domain"
	"dmcore/internal/security"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, participant_a, participant_b, created_at, updated_at, last_message_at, is_deleted`

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	a, b := security.CanonicalPair(c.ParticipantA, c.ParticipantB)
	c.ParticipantA, c.ParticipantB = a, b

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, a, b, c.CreatedAt, c.UpdatedAt, c.LastMessageAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert conversation: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) FindByParticipants(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	a, b := security.CanonicalPair(userA, userB)
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = $1 AND participant_b = $2 AND NOT is_deleted
	`, a, b)
	return scanConversation(row)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE NOT is_deleted AND (participant_a = $1 OR participant_b = $1)
		ORDER BY last_message_at DESC, created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return res, nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `UPDATE conversations SET is_deleted = TRUE WHERE id = $1 AND NOT is_deleted`, id)
		if err != nil {
			return fmt.Errorf("tombstone conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("tombstone conversation: %w", err)
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*domain.Conversation, error) {
	var c domain.Conversation
	err := s.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt, &c.IsDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.LastMessageAt = c.LastMessageAt.UTC()
	return &c, nil
}
