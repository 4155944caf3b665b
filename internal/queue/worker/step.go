package worker

import (
	"context"
	"errors"

	"github.com/mkarwoski/userdeck/internal/domain/job"
	"github.com/mkarwoski/userdeck/internal/jobs"
	"github.com/mkarwoski/userdeck/internal/mail"
)

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	decoded, err := jobs.DecodePayload(j)

	if err != nil {
		return err
	}

	switch p := decoded.(type) {
	case jobs.PasswordResetMailPayload:
		return w.sendPasswordReset(ctx, j, p)

	case jobs.WelcomeMailPayload:
		return w.sendWelcome(ctx, j, p)

	default:
		return jobs.ErrInvalidJobType
	}
}

func (w *Worker) sendPasswordReset(ctx context.Context, j job.Job, p jobs.PasswordResetMailPayload) error {
	err := w.deliveries.TryStart(ctx, jobs.TypePasswordResetMail, p.UserID, j.ID, p.Email)

	if err != nil {
		if errors.Is(err, mail.ErrAlreadySent) {
			// a retry after a crash between send and mark-done
			return nil
		}
		return err
	}

	msg, err := mail.PasswordResetMessage(p.Email, p.Name, p.ResetLink)

	if err != nil {
		return err
	}

	if err := w.mailer.Send(ctx, msg); err != nil {
		_ = w.deliveries.MarkFailed(ctx, jobs.TypePasswordResetMail, p.UserID, j.ID, err.Error())
		return err
	}

	return w.deliveries.MarkSent(ctx, jobs.TypePasswordResetMail, p.UserID, j.ID)
}

func (w *Worker) sendWelcome(ctx context.Context, j job.Job, p jobs.WelcomeMailPayload) error {
	err := w.deliveries.TryStart(ctx, jobs.TypeWelcomeMail, p.UserID, j.ID, p.Email)

	if err != nil {
		if errors.Is(err, mail.ErrAlreadySent) {
			return nil
		}
		return err
	}

	loginURL := p.LoginURL

	if loginURL == "" {
		loginURL = w.cfg.LoginURL
	}

	msg, err := mail.WelcomeMessage(p.Email, p.Name, p.Role, loginURL)

	if err != nil {
		return err
	}

	if err := w.mailer.Send(ctx, msg); err != nil {
		_ = w.deliveries.MarkFailed(ctx, jobs.TypeWelcomeMail, p.UserID, j.ID, err.Error())
		return err
	}

	return w.deliveries.MarkSent(ctx, jobs.TypeWelcomeMail, p.UserID, j.ID)
}
