package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/chatten/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, text, timestamp)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.Timestamp,
	)
	return mapError(err)
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.text, m.timestamp,
			u.name, u.avatar_url
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.id = $1`
	var msg domain.Message
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &msg.Timestamp,
		&msg.SenderName, &msg.SenderAvatarURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &msg, err
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	var query string
	var args []any

	if before != nil {
		query = fmt.Sprintf(`
			SELECT m.id, m.conversation_id, m.sender_id, m.text, m.timestamp,
				u.name, u.avatar_url
			FROM conversation_messages cm
			JOIN messages m ON m.id = cm.message_id
			JOIN users u ON m.sender_id = u.id
			WHERE cm.conversation_id = $1
				AND (m.timestamp, cm.seq) < (
					SELECT cur.timestamp, cm2.seq
					FROM conversation_messages cm2
					JOIN messages cur ON cur.id = cm2.message_id
					WHERE cm2.conversation_id = $1 AND cm2.message_id = $2
				)
			ORDER BY m.timestamp DESC, cm.seq DESC
			LIMIT %d`, limit)
		args = []any{conversationID, *before}
	} else {
		query = fmt.Sprintf(`
			SELECT m.id, m.conversation_id, m.sender_id, m.text, m.timestamp,
				u.name, u.avatar_url
			FROM conversation_messages cm
			JOIN messages m ON m.id = cm.message_id
			JOIN users u ON m.sender_id = u.id
			WHERE cm.conversation_id = $1
			ORDER BY m.timestamp DESC, cm.seq DESC
			LIMIT %d`, limit)
		args = []any{conversationID}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &msg.Timestamp,
			&msg.SenderName, &msg.SenderAvatarURL,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (r *MessageRepo) RelinkOrphans(ctx context.Context) (int64, error) {
	query := `
		INSERT INTO conversation_messages (conversation_id, message_id)
		SELECT m.conversation_id, m.id
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE NOT EXISTS (
			SELECT 1 FROM conversation_messages cm WHERE cm.message_id = m.id
		)
		ORDER BY m.timestamp
		ON CONFLICT (message_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
