package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/mkarwoski/userdeck/internal/auth"
	"github.com/mkarwoski/userdeck/internal/config"
	"github.com/mkarwoski/userdeck/internal/domain/job"
	"github.com/mkarwoski/userdeck/internal/domain/user"
	"github.com/mkarwoski/userdeck/internal/http/handlers"
	"github.com/mkarwoski/userdeck/internal/jobs"
	"github.com/mkarwoski/userdeck/internal/observability"
	"github.com/mkarwoski/userdeck/internal/security"
)

// Keep Gin quiet during tests

func init() {
	gin.SetMode(gin.TestMode)
}

// Fake store implementing handlers.AuthUsersStore

type fakeAuthStore struct {
	getByEmailFn    func(ctx context.Context, email string) (user.User, error)
	createFn        func(ctx context.Context, name, email, passwordHash, role string) (user.User, error)
	setResetTokenFn func(ctx context.Context, tx pgx.Tx, email, token string, expiresAt time.Time) error
	claimFn         func(ctx context.Context, token, newPasswordHash string) (user.User, error)
}

func (f *fakeAuthStore) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}
	return user.User{}, user.ErrNotFound
}

func (f *fakeAuthStore) Create(ctx context.Context, name, email, passwordHash, role string) (user.User, error) {
	if f.createFn != nil {
		return f.createFn(ctx, name, email, passwordHash, role)
	}
	return user.User{}, nil
}

func (f *fakeAuthStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

func (f *fakeAuthStore) SetResetTokenTx(ctx context.Context, tx pgx.Tx, email, token string, expiresAt time.Time) error {
	if f.setResetTokenFn != nil {
		return f.setResetTokenFn(ctx, tx, email, token, expiresAt)
	}
	return nil
}

func (f *fakeAuthStore) ClaimResetToken(ctx context.Context, token, newPasswordHash string) (user.User, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, token, newPasswordHash)
	}
	return user.User{}, user.ErrResetTokenInvalid
}

// fakeTx only needs Commit/Rollback; the embedded interface covers the rest.

type fakeTx struct {
	pgx.Tx
	commitErr error
}

func (t *fakeTx) Commit(ctx context.Context) error   { return t.commitErr }
func (t *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeJobEnqueuer struct {
	createTxFn func(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
	created    []job.CreateRequest
}

func (f *fakeJobEnqueuer) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	f.created = append(f.created, req)

	if f.createTxFn != nil {
		return f.createTxFn(ctx, tx, req)
	}
	return job.New(req), nil
}

func testConfig() config.Config {
	return config.Config{
		Env:               "test",
		JWTSecret:         "test-secret",
		SessionTTLHours:   5,
		ResetTokenTTLMins: 60,
		ResetLinkBase:     "http://localhost:3001/reset-password",
		PublicBaseURL:     "http://localhost:8080",
	}
}

func newAuthHandler(store *fakeAuthStore, enq *fakeJobEnqueuer) *handlers.AuthHandler {
	cfg := testConfig()
	jwtManager := auth.NewManager(cfg.JWTSecret, 5*time.Hour)
	log := observability.NewLogger("test")

	return handlers.NewAuthHandler(store, enq, jwtManager, cfg, log)
}

func setupRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Handle(method, path, h)

	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

// SignUp tests

func TestSignUpHandler(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name           string
		body           string
		storeSetup     func(*fakeAuthStore)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"name":"Ada","email":"ada@example.com","password":"s3cret"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.createFn = func(ctx context.Context, name, email, passwordHash, role string) (user.User, error) {
					if role != user.RoleUser {
						t.Fatalf("sign-up must grant the user role, got %q", role)
					}
					if passwordHash == "s3cret" {
						t.Fatal("password must be hashed before it reaches the store")
					}
					return user.User{
						ID: "0c4a55e2-3f6a-4f11-a3ff-6aa889f6f80e", Name: name, Email: email,
						PasswordHash: passwordHash, Role: role, CreatedAt: now, UpdatedAt: now,
					}, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name:           "validation_error",
			body:           `{"email":"not-an-email","password":"abc"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "duplicate_email",
			body: `{"name":"Ada","email":"ada@example.com","password":"s3cret"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.createFn = func(ctx context.Context, name, email, passwordHash, role string) (user.User, error) {
					return user.User{}, user.ErrEmailTaken
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "store_error",
			body: `{"name":"Ada","email":"ada@example.com","password":"s3cret"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.createFn = func(ctx context.Context, name, email, passwordHash, role string) (user.User, error) {
					return user.User{}, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeAuthStore{}

			if tt.storeSetup != nil {
				tt.storeSetup(store)
			}

			h := newAuthHandler(store, &fakeJobEnqueuer{})
			r := setupRouter(http.MethodPost, "/auth/signup", h.SignUp)

			w := doJSON(t, r, http.MethodPost, "/auth/signup", tt.body)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode == http.StatusCreated {
				var resp struct {
					User  user.User `json:"user"`
					Token string    `json:"token"`
				}

				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}

				if resp.Token == "" {
					t.Fatal("expected a session token in the response")
				}

				if resp.User.Email != "ada@example.com" {
					t.Fatalf("unexpected user email: %s", resp.User.Email)
				}
			}
		})
	}
}

// Login tests

func TestLoginHandler(t *testing.T) {
	hash, err := security.HashPassword("correct-horse")

	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	registered := user.User{
		ID:           "7f0f3c2a-3de4-4a29-b6cb-2ad68f1f50b9",
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: hash,
		Role:         user.RoleUser,
	}

	tests := []struct {
		name           string
		body           string
		storeSetup     func(*fakeAuthStore)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"email":"ada@example.com","password":"correct-horse"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return registered, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "unknown_email",
			body: `{"email":"nobody@example.com","password":"whatever"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return user.User{}, user.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "wrong_password",
			body: `{"email":"ada@example.com","password":"incorrect"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return registered, nil
				}
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "validation_error",
			body:           `{"email":"ada@example.com"}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeAuthStore{}

			if tt.storeSetup != nil {
				tt.storeSetup(store)
			}

			h := newAuthHandler(store, &fakeJobEnqueuer{})
			r := setupRouter(http.MethodPost, "/auth/login", h.Login)

			w := doJSON(t, r, http.MethodPost, "/auth/login", tt.body)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

// The issued token must carry verified identity the middleware can trust.

func TestLoginTokenCarriesClaims(t *testing.T) {
	hash, err := security.HashPassword("correct-horse")

	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	admin := user.User{
		ID:           "a9dfb9e6-6d5c-4b88-9d19-25c33cb94c29",
		Name:         "Root",
		Email:        "root@example.com",
		PasswordHash: hash,
		Role:         user.RoleAdmin,
	}

	store := &fakeAuthStore{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			return admin, nil
		},
	}

	h := newAuthHandler(store, &fakeJobEnqueuer{})
	r := setupRouter(http.MethodPost, "/auth/login", h.Login)

	w := doJSON(t, r, http.MethodPost, "/auth/login", `{"email":"root@example.com","password":"correct-horse"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	jwtManager := auth.NewManager("test-secret", 5*time.Hour)
	claims, err := jwtManager.VerifySessionToken(resp.Token)

	if err != nil {
		t.Fatalf("issued token did not verify: %v", err)
	}

	if claims.UserID != admin.ID || claims.Role != user.RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

// ForgotPassword tests

func TestForgotPasswordHandler(t *testing.T) {
	registered := user.User{
		ID:    "7f0f3c2a-3de4-4a29-b6cb-2ad68f1f50b9",
		Name:  "Ada",
		Email: "ada@example.com",
	}

	t.Run("success_enqueues_reset_mail", func(t *testing.T) {
		var storedToken string

		store := &fakeAuthStore{
			getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
				return registered, nil
			},
			setResetTokenFn: func(ctx context.Context, tx pgx.Tx, email, token string, expiresAt time.Time) error {
				storedToken = token

				if until := time.Until(expiresAt); until < 55*time.Minute || until > 65*time.Minute {
					t.Fatalf("expiry not near the configured 60 minutes: %v", until)
				}
				return nil
			},
		}

		enq := &fakeJobEnqueuer{}

		h := newAuthHandler(store, enq)
		r := setupRouter(http.MethodPost, "/auth/forgot-password", h.ForgotPassword)

		w := doJSON(t, r, http.MethodPost, "/auth/forgot-password", `{"email":"ada@example.com"}`)

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}

		if len(enq.created) != 1 {
			t.Fatalf("expected one enqueued job, got %d", len(enq.created))
		}

		req := enq.created[0]

		if req.Type != jobs.TypePasswordResetMail {
			t.Fatalf("unexpected job type: %s", req.Type)
		}

		var payload jobs.PasswordResetMailPayload

		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			t.Fatalf("failed to unmarshal payload: %v", err)
		}

		if payload.UserID != registered.ID || payload.Email != registered.Email {
			t.Fatalf("payload identity mismatch: %+v", payload)
		}

		// the mailed link must carry the token that was stored
		wantLink := "http://localhost:3001/reset-password?token=" + storedToken

		if payload.ResetLink != wantLink {
			t.Fatalf("reset link %q does not match stored token link %q", payload.ResetLink, wantLink)
		}
	})

	t.Run("unknown_email", func(t *testing.T) {
		store := &fakeAuthStore{
			getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
				return user.User{}, user.ErrNotFound
			},
		}

		enq := &fakeJobEnqueuer{}

		h := newAuthHandler(store, enq)
		r := setupRouter(http.MethodPost, "/auth/forgot-password", h.ForgotPassword)

		w := doJSON(t, r, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`)

		if w.Code != http.StatusNotFound {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}

		if len(enq.created) != 0 {
			t.Fatal("no job should be enqueued for an unknown email")
		}
	})

	t.Run("enqueue_failure_rolls_back", func(t *testing.T) {
		store := &fakeAuthStore{
			getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
				return registered, nil
			},
		}

		enq := &fakeJobEnqueuer{
			createTxFn: func(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
				return job.Job{}, errors.New("insert failed")
			},
		}

		h := newAuthHandler(store, enq)
		r := setupRouter(http.MethodPost, "/auth/forgot-password", h.ForgotPassword)

		w := doJSON(t, r, http.MethodPost, "/auth/forgot-password", `{"email":"ada@example.com"}`)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}
	})
}

// ResetPassword tests

func TestResetPasswordHandler(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		body           string
		storeSetup     func(*fakeAuthStore)
		wantStatusCode int
	}{
		{
			name: "success",
			url:  "/auth/reset-password?token=abc123",
			body: `{"password":"new-pass"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.claimFn = func(ctx context.Context, token, newPasswordHash string) (user.User, error) {
					if token != "abc123" {
						t.Fatalf("unexpected token: %s", token)
					}
					if newPasswordHash == "new-pass" {
						t.Fatal("password must be hashed before it reaches the store")
					}
					return user.User{ID: "u1", Email: "ada@example.com"}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "missing_token",
			url:            "/auth/reset-password",
			body:           `{"password":"new-pass"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "invalid_or_expired_token",
			url:  "/auth/reset-password?token=stale",
			body: `{"password":"new-pass"}`,
			storeSetup: func(f *fakeAuthStore) {
				f.claimFn = func(ctx context.Context, token, newPasswordHash string) (user.User, error) {
					return user.User{}, user.ErrResetTokenInvalid
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "validation_error",
			url:            "/auth/reset-password?token=abc123",
			body:           `{"password":"x"}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeAuthStore{}

			if tt.storeSetup != nil {
				tt.storeSetup(store)
			}

			h := newAuthHandler(store, &fakeJobEnqueuer{})
			r := setupRouter(http.MethodPost, "/auth/reset-password", h.ResetPassword)

			w := doJSON(t, r, http.MethodPost, tt.url, tt.body)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}
