package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/mkarwoski/userdeck/internal/cache"
	"github.com/mkarwoski/userdeck/internal/config"
	"github.com/mkarwoski/userdeck/internal/domain/job"
	"github.com/mkarwoski/userdeck/internal/domain/user"
	"github.com/mkarwoski/userdeck/internal/jobs"
	"github.com/mkarwoski/userdeck/internal/repo/postgres"
	"github.com/mkarwoski/userdeck/internal/security"
	"github.com/mkarwoski/userdeck/internal/utils"
)

type UsersStore interface {
	List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	Create(ctx context.Context, name, email, passwordHash, role string) (user.User, error)
	Update(ctx context.Context, id string, fields postgres.UpdateFields) (user.User, error)
	Delete(ctx context.Context, id string) error
}

type JobCreator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

type UsersHandler struct {
	users     UsersStore
	jobs      JobCreator
	listCache *cache.Cache
	cfg       config.Config
	log       *slog.Logger
}

func NewUsersHandler(users UsersStore, jobsStore JobCreator, listCache *cache.Cache, cfg config.Config, log *slog.Logger) *UsersHandler {
	return &UsersHandler{
		users:     users,
		jobs:      jobsStore,
		listCache: listCache,
		cfg:       cfg,
		log:       log,
	}
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func (h *UsersHandler) List(ctx *gin.Context) {
	page, err := strconv.Atoi(ctx.DefaultQuery("page", "1"))

	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))

	if err != nil || limit < 1 {
		limit = defaultPageSize
	}

	if limit > maxPageSize {
		limit = maxPageSize
	}

	search := strings.TrimSpace(ctx.Query("search"))

	cacheKey := fmt.Sprintf("users:list:%d:%d:%s", page, limit, search)

	if h.listCache != nil {
		if v, ok := h.listCache.Get(cacheKey); ok {
			if res, ok := v.(user.ListResult); ok {
				ctx.JSON(http.StatusOK, res)
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	users, total, err := h.users.List(cctx, user.ListFilter{
		Page:   page,
		Limit:  limit,
		Search: search,
	})

	if err != nil {
		h.log.Error("listing users failed", "error", err)
		RespondInternal(ctx, "Could not list users")
		return
	}

	res := user.ListResult{
		Users:      users,
		TotalUsers: total,
		TotalPages: (total + limit - 1) / limit,
	}

	if h.listCache != nil {
		h.listCache.Set(cacheKey, res)
	}

	ctx.JSON(http.StatusOK, res)
}

func (h *UsersHandler) Get(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "Invalid user id", gin.H{"param": "id"})
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	u, err := h.users.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "not_found", "User not found.")
			return
		}

		h.log.Error("fetching user failed", "error", err, "id", id)
		RespondInternal(ctx, "Could not fetch user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user": u,
	})
}

func (h *UsersHandler) Create(ctx *gin.Context) {
	var req user.CreateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if strings.ContainsFunc(req.Password, unicode.IsSpace) {
		RespondBadRequest(ctx, "Invalid request body", gin.H{
			"fields": []FieldError{
				{Field: "password", Rule: "no_spaces", Message: "must not contain whitespace"},
			},
		})
		return
	}

	role := req.Role

	if role == "" {
		role = user.RoleUser
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.users.Create(cctx, req.Username, req.Email, hash, role)

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			RespondNotFound(ctx, "already_exists", "A user with that email already exists.")
			return
		}

		h.log.Error("creating user failed", "error", err)
		RespondInternal(ctx, "Could not create user")
		return
	}

	h.invalidateListCache()
	h.enqueueWelcomeMail(cctx, u)

	ctx.JSON(http.StatusCreated, gin.H{
		"user": u,
	})
}

func (h *UsersHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "Invalid user id", gin.H{"param": "id"})
		return
	}

	var req user.UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	fields := postgres.UpdateFields{
		Name:  req.Username,
		Email: req.Email,
		Role:  req.Role,
	}

	if req.Password != nil {
		if strings.ContainsFunc(*req.Password, unicode.IsSpace) {
			RespondBadRequest(ctx, "Invalid request body", gin.H{
				"fields": []FieldError{
					{Field: "password", Rule: "no_spaces", Message: "must not contain whitespace"},
				},
			})
			return
		}

		hash, err := security.HashPassword(*req.Password)

		if err != nil {
			RespondInternal(ctx, "Could not update user")
			return
		}

		fields.PasswordHash = &hash
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	u, err := h.users.Update(cctx, id, fields)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "not_found", "User not found.")
		case errors.Is(err, user.ErrEmailTaken):
			RespondNotFound(ctx, "already_exists", "A user with that email already exists.")
		default:
			h.log.Error("updating user failed", "error", err, "id", id)
			RespondInternal(ctx, "Could not update user")
		}
		return
	}

	h.invalidateListCache()

	ctx.JSON(http.StatusOK, gin.H{
		"user": u,
	})
}

func (h *UsersHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "Invalid user id", gin.H{"param": "id"})
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	err := h.users.Delete(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "not_found", "User not found.")
			return
		}

		h.log.Error("deleting user failed", "error", err, "id", id)
		RespondInternal(ctx, "Could not delete user")
		return
	}

	h.invalidateListCache()

	ctx.JSON(http.StatusOK, gin.H{
		"message": "User deleted successfully.",
	})
}

func (h *UsersHandler) invalidateListCache() {
	if h.listCache != nil {
		h.listCache.Clear()
	}
}

// Welcome mail is best effort: the user row is already committed, so a
// failed enqueue only costs the greeting.
func (h *UsersHandler) enqueueWelcomeMail(ctx context.Context, u user.User) {
	if h.jobs == nil {
		return
	}

	payload, err := jobs.WelcomeMailPayload{
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		LoginURL:    h.cfg.PublicBaseURL,
		RequestedAt: time.Now().UTC(),
	}.JSON()

	if err != nil {
		h.log.Warn("welcome mail payload failed", "error", err, "userId", u.ID)
		return
	}

	idemKey := "mail:welcome:" + u.ID

	_, err = h.jobs.Create(ctx, job.CreateRequest{
		Type:           jobs.TypeWelcomeMail,
		Payload:        payload,
		IdempotencyKey: &idemKey,
	})

	if err != nil {
		h.log.Warn("welcome mail enqueue failed", "error", err, "userId", u.ID)
	}
}
