package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/chatten/internal/domain"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation, participantKey string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, participant_key, created_at) VALUES ($1, $2, $3)`,
			conv.ID, participantKey, conv.CreatedAt,
		)
		if err != nil {
			return err
		}

		for i, p := range conv.Participants {
			_, err := tx.Exec(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, position, name)
				VALUES ($1, $2, $3, $4)`,
				conv.ID, p.ID, i, conv.ParticipantNames[i],
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return mapError(err)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return r.getOne(ctx, `SELECT id, created_at FROM conversations WHERE id = $1`, id)
}

func (r *ConversationRepo) GetByParticipantKey(ctx context.Context, participantKey string) (*domain.Conversation, error) {
	return r.getOne(ctx, `SELECT id, created_at FROM conversations WHERE participant_key = $1`, participantKey)
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, search string) ([]domain.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, lm.id, lm.sender_id, lm.text, lm.timestamp
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.text, m.timestamp
			FROM messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.timestamp DESC
			LIMIT 1
		) lm ON true
		WHERE $2 = '' OR EXISTS (
			SELECT 1 FROM conversation_participants p
			WHERE p.conversation_id = c.id AND p.name ILIKE '%' || $2 || '%'
		)
		ORDER BY lm.timestamp DESC NULLS LAST, c.created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, likeEscaper.Replace(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var (
			conv     domain.Conversation
			msgID    *uuid.UUID
			senderID *uuid.UUID
			text     *string
			ts       *time.Time
		)
		if err := rows.Scan(&conv.ID, &conv.CreatedAt, &msgID, &senderID, &text, &ts); err != nil {
			return nil, err
		}
		if msgID != nil {
			conv.LastMessage = &domain.LastMessage{ID: *msgID, SenderID: *senderID, Text: *text, Timestamp: *ts}
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

func (r *ConversationRepo) AppendMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	query := `
		INSERT INTO conversation_messages (conversation_id, message_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, conversationID, messageID)
	return err
}

func (r *ConversationRepo) getOne(ctx context.Context, query string, arg any) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, arg).Scan(&conv.ID, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	convs := []domain.Conversation{conv}
	if err := r.attachParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return &convs[0], nil
}

// attachParticipants fills participants and the name snapshot, in position order.
func (r *ConversationRepo) attachParticipants(ctx context.Context, convs []domain.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(convs))
	index := make(map[uuid.UUID]int, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		index[c.ID] = i
	}

	query := `
		SELECT p.conversation_id, p.user_id, p.name, u.name, u.avatar_url
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1)
		ORDER BY p.conversation_id, p.position`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			convID   uuid.UUID
			p        domain.Participant
			snapshot string
		)
		if err := rows.Scan(&convID, &p.ID, &snapshot, &p.Name, &p.AvatarURL); err != nil {
			return err
		}
		c := &convs[index[convID]]
		c.Participants = append(c.Participants, p)
		c.ParticipantNames = append(c.ParticipantNames, snapshot)
	}
	return rows.Err()
}
