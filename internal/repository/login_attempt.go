package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/folio-cms/folio/internal/model"
)

// LoginAttemptRepository provides database access for login audit records.
type LoginAttemptRepository struct {
	repo *Repository
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository.
func NewLoginAttemptRepository(repo *Repository) *LoginAttemptRepository {
	return &LoginAttemptRepository{repo: repo}
}

// BulkInsert inserts multiple attempts with idempotency via ON CONFLICT DO NOTHING.
// A user_id that no longer exists is stored as NULL.
func (r *LoginAttemptRepository) BulkInsert(ctx context.Context, attempts []*model.LoginAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO login_attempts (
			id, event_id, email, user_id, success, reason,
			ip_hash, user_agent, attempted_at, created_at
		)
		VALUES ($1, $2, $3, (SELECT id FROM users WHERE id = $4), $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, a := range attempts {
		var userID *string
		if a.UserID != nil && *a.UserID != "" {
			userID = a.UserID
		}
		batch.Queue(query,
			a.ID,
			a.EventID,
			a.Email,
			userID,
			a.Success,
			a.Reason,
			a.IPHash,
			nullableString(a.UserAgent),
			a.AttemptedAt,
		)
	}

	ctx, cancel := context.WithTimeout(ctx, r.repo.queryTimeout)
	defer cancel()

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(attempts); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert attempt %d: %w", i, err)
		}
	}

	return nil
}

// CountByEmail returns the total and failed attempt counts for an email.
func (r *LoginAttemptRepository) CountByEmail(ctx context.Context, email string) (total, failed int64, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT success)
		FROM login_attempts
		WHERE email = $1
	`

	if err := r.repo.QueryRow(ctx, query, model.NormalizeEmail(email)).Scan(&total, &failed); err != nil {
		return 0, 0, fmt.Errorf("count login attempts: %w", err)
	}
	return total, failed, nil
}
