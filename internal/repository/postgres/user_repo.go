package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/chatten/internal/domain"
)

const userColumns = "id, external_id, name, email, avatar_url, created_at, updated_at"

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, external_id, name, email, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		user.ID, user.ExternalID, user.Name, user.Email,
		user.AvatarURL, user.CreatedAt, user.UpdatedAt,
	)
	return mapError(err)
}

func (r *UserRepo) Update(ctx context.Context, user *domain.User) error {
	query := `UPDATE users SET name = $1, email = $2, avatar_url = $3, updated_at = $4 WHERE id = $5`
	_, err := r.pool.Exec(ctx, query, user.Name, user.Email, user.AvatarURL, user.UpdatedAt, user.ID)
	return mapError(err)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.scanUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

func (r *UserRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return r.scanUser(ctx, "SELECT "+userColumns+" FROM users WHERE external_id = $1", externalID)
}

func (r *UserRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+userColumns+" FROM users WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID, &u.ExternalID, &u.Name, &u.Email,
			&u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) List(ctx context.Context) ([]domain.UserSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, avatar_url FROM users ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserSummary
	for rows.Next() {
		var u domain.UserSummary
		if err := rows.Scan(&u.ID, &u.Name, &u.AvatarURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) Block(ctx context.Context, userID, blockedID uuid.UUID) error {
	query := `
		INSERT INTO user_blocks (user_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, blocked_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, userID, blockedID)
	return err
}

func (r *UserRepo) Unblock(ctx context.Context, userID, blockedID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_blocks WHERE user_id = $1 AND blocked_id = $2`, userID, blockedID)
	return err
}

func (r *UserRepo) ListBlocked(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT blocked_id FROM user_blocks WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepo) IsBlocked(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_blocks WHERE user_id = $1 AND blocked_id = $2)`,
		userID, otherID,
	).Scan(&exists)
	return exists, err
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.ExternalID, &u.Name, &u.Email,
		&u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.BlockedUsers, err = r.ListBlocked(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
