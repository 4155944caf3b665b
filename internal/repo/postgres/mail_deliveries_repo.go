package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkarwoski/userdeck/internal/mail"
	"github.com/mkarwoski/userdeck/internal/observability"
)

type MailDeliveriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewMailDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *MailDeliveriesRepo {
	return &MailDeliveriesRepo{pool: pool, prom: prom}
}

func (r *MailDeliveriesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// TryStart claims the send for (kind, user, job) before the worker talks to
// the mail provider. Retries and concurrent workers cannot double-send:
// only one caller can insert the row or flip a failed row back to sending.
func (r *MailDeliveriesRepo) TryStart(ctx context.Context, kind, userID, jobID, recipient string) error {
	err := r.observe("mail_deliveries.try_start", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO mail_deliveries (kind, user_id, job_id, recipient, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'sending', NOW(), NOW())
		`, kind, userID, jobID, recipient)
		return err
	})

	if err == nil {
		return nil
	}
	if !IsUniqueViolation(err) {
		return err
	}

	// Row exists. If it failed before, claim it for retry; the WHERE makes
	// the failed -> sending flip atomic.
	tag, uErr := r.pool.Exec(ctx, `
		UPDATE mail_deliveries
		SET status = 'sending',
		    recipient = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND user_id = $2 AND job_id = $3 AND status = 'failed'
	`, kind, userID, jobID, recipient)

	if uErr != nil {
		return uErr
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Not failed: already sent, or another worker is on it.
	var status string
	var sentAt *time.Time

	qErr := r.pool.QueryRow(ctx, `
		SELECT status, sent_at
		FROM mail_deliveries
		WHERE kind = $1 AND user_id = $2 AND job_id = $3
	`, kind, userID, jobID).Scan(&status, &sentAt)

	if qErr != nil {
		if errors.Is(qErr, pgx.ErrNoRows) {
			// row disappeared; let caller retry
			return nil
		}
		return qErr
	}

	if sentAt != nil || status == "sent" {
		return mail.ErrAlreadySent
	}

	return mail.ErrInProgress
}

func (r *MailDeliveriesRepo) MarkSent(ctx context.Context, kind, userID, jobID string) error {
	return r.observe("mail_deliveries.mark_sent", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE mail_deliveries
			SET status = 'sent',
			    sent_at = NOW(),
			    last_error = NULL,
			    updated_at = NOW()
			WHERE kind = $1 AND user_id = $2 AND job_id = $3
		`, kind, userID, jobID)

		return err
	})
}

func (r *MailDeliveriesRepo) MarkFailed(ctx context.Context, kind, userID, jobID, errMsg string) error {
	return r.observe("mail_deliveries.mark_failed", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE mail_deliveries
			SET status = 'failed',
			    last_error = $4,
			    updated_at = NOW()
			WHERE kind = $1 AND user_id = $2 AND job_id = $3
		`, kind, userID, jobID, errMsg)

		return err
	})
}
