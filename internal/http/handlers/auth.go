package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/mkarwoski/userdeck/internal/auth"
	"github.com/mkarwoski/userdeck/internal/config"
	"github.com/mkarwoski/userdeck/internal/domain/job"
	"github.com/mkarwoski/userdeck/internal/domain/user"
	"github.com/mkarwoski/userdeck/internal/jobs"
	"github.com/mkarwoski/userdeck/internal/security"
)

type AuthUsersStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Create(ctx context.Context, name, email, passwordHash, role string) (user.User, error)
	BeginTx(ctx context.Context) (pgx.Tx, error)
	SetResetTokenTx(ctx context.Context, tx pgx.Tx, email, token string, expiresAt time.Time) error
	ClaimResetToken(ctx context.Context, token, newPasswordHash string) (user.User, error)
}

type JobEnqueuer interface {
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
}

type AuthHandler struct {
	users AuthUsersStore
	jobs  JobEnqueuer
	jwt   *auth.Manager
	cfg   config.Config
	log   *slog.Logger
}

func NewAuthHandler(users AuthUsersStore, jobsStore JobEnqueuer, jwtManager *auth.Manager, cfg config.Config, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users: users,
		jobs:  jobsStore,
		jwt:   jwtManager,
		cfg:   cfg,
		log:   log,
	}
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req user.SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create account")
		return
	}

	u, err := h.users.Create(cctx, req.Name, req.Email, hash, user.RoleUser)

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			// the management UI treats a taken email as "account exists"
			RespondNotFound(ctx, "already_exists", "An account with that email already exists.")
			return
		}

		h.log.Error("signup failed", "error", err)
		RespondInternal(ctx, "Could not create account")
		return
	}

	token, err := h.jwt.GenerateSessionToken(u.ID, u.Email, u.Role)

	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"user":  u,
		"token": token,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for the lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "not_found", "No account with that email.")
			return
		}

		h.log.Error("login lookup failed", "error", err)
		RespondInternal(ctx, "Could not log in")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	token, err := h.jwt.GenerateSessionToken(foundUser.ID, foundUser.Email, foundUser.Role)

	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user":  foundUser,
		"token": token,
	})
}

// ForgotPassword stores a fresh reset token and enqueues the reset mail in
// one transaction. Either both commit or neither does, so a mailed link
// always matches a stored token.
func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req user.ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "not_found", "No account with that email.")
			return
		}

		h.log.Error("forgot-password lookup failed", "error", err)
		RespondInternal(ctx, "Could not start password reset")
		return
	}

	token, err := auth.NewResetToken()

	if err != nil {
		RespondInternal(ctx, "Could not start password reset")
		return
	}

	expiresAt := time.Now().UTC().Add(time.Duration(h.cfg.ResetTokenTTLMins) * time.Minute)

	tx, err := h.users.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not start password reset")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	err = h.users.SetResetTokenTx(cctx, tx, foundUser.Email, token, expiresAt)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "not_found", "No account with that email.")
			return
		}

		h.log.Error("storing reset token failed", "error", err)
		RespondInternal(ctx, "Could not start password reset")
		return
	}

	payload, err := jobs.PasswordResetMailPayload{
		UserID:      foundUser.ID,
		Email:       foundUser.Email,
		Name:        foundUser.Name,
		ResetLink:   h.cfg.ResetLinkBase + "?token=" + token,
		RequestedAt: time.Now().UTC(),
	}.JSON()

	if err != nil {
		RespondInternal(ctx, "Could not start password reset")
		return
	}

	// one delivery per issued token
	idemKey := "mail:reset:" + foundUser.ID + ":" + token[:8]

	_, err = h.jobs.CreateTx(cctx, tx, job.CreateRequest{
		Type:           jobs.TypePasswordResetMail,
		Payload:        payload,
		IdempotencyKey: &idemKey,
	})

	if err != nil {
		h.log.Error("enqueueing reset mail failed", "error", err)
		RespondInternal(ctx, "Could not start password reset")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		h.log.Error("forgot-password commit failed", "error", err)
		RespondInternal(ctx, "Could not start password reset")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "If the account exists, a reset link is on its way.",
	})
}

// ResetPassword consumes the token from the query string and sets the new
// password. The token is single use.
func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	token := ctx.Query("token")

	if token == "" {
		RespondBadRequest(ctx, "Missing reset token", gin.H{"query": "token"})
		return
	}

	var req user.ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	u, err := h.users.ClaimResetToken(cctx, token, hash)

	if err != nil {
		if errors.Is(err, user.ErrResetTokenInvalid) {
			RespondError(ctx, http.StatusBadRequest, "invalid_token", "Reset token is invalid or has expired.", nil)
			return
		}

		h.log.Error("reset-password failed", "error", err)
		RespondInternal(ctx, "Could not reset password")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user": u,
	})
}
