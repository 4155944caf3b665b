package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkarwoski/userdeck/internal/domain/user"
	"github.com/mkarwoski/userdeck/internal/observability"
)

const userColumns = `id, name, email, password_hash, role, reset_token, reset_token_expires_at, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.ResetToken,
		&u.ResetTokenExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	op := "users.get_by_email"

	err = r.observe(op, func() error {
		u, err = scanUser(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`,
			email,
		))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var err error

	op := "users.get_by_id"

	err = r.observe(op, func() error {
		u, err = scanUser(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, name, email, passwordHash, role string) (user.User, error) {
	u := user.New(name, email, passwordHash, role)

	op := "users.create"

	err := r.observe(op, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return u, nil
}

// UpdateFields carries a partial update; nil members are left untouched.
type UpdateFields struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Role         *string
}

func (r *UsersRepo) Update(ctx context.Context, id string, fields UpdateFields) (user.User, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}

	argsPosition := 2

	if fields.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argsPosition))
		args = append(args, *fields.Name)
		argsPosition++
	}

	if fields.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", argsPosition))
		args = append(args, *fields.Email)
		argsPosition++
	}

	if fields.PasswordHash != nil {
		sets = append(sets, fmt.Sprintf("password_hash = $%d", argsPosition))
		args = append(args, *fields.PasswordHash)
		argsPosition++
	}

	if fields.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", argsPosition))
		args = append(args, *fields.Role)
		argsPosition++
	}

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + `
		WHERE id = $1
		RETURNING ` + userColumns

	var u user.User
	var err error

	op := "users.update"

	err = r.observe(op, func() error {
		u, err = scanUser(r.pool.QueryRow(ctx, query, args...))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag
	var err error

	op := "users.delete"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}

// List returns one page of users plus the total match count.
// Search matches name or email as a case-insensitive substring.
func (r *UsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error) {
	baseQuery := `SELECT ` + userColumns + `,
		COUNT(*) OVER() AS total
	FROM users
	`

	var conds []string
	var args []interface{}

	argsPosition := 1

	if strings.TrimSpace(filter.Search) != "" {
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", argsPosition, argsPosition))
		args = append(args, "%"+strings.TrimSpace(filter.Search)+"%")
		argsPosition++
	}

	query := baseQuery

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// stable ordering for pagination
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", argsPosition, argsPosition+1)

	countQuery := `SELECT COUNT(*) FROM users`

	if len(conds) > 0 {
		countQuery += " WHERE " + strings.Join(conds, " AND ")
	}

	condArgs := args

	offset := (filter.Page - 1) * filter.Limit
	args = append(args, filter.Limit, offset)

	var output []user.User
	total := 0

	op := "users.list"

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, query, args...)

		if err != nil {
			return err
		}

		defer rows.Close()

		output = make([]user.User, 0, filter.Limit)

		for rows.Next() {
			var u user.User
			var t int

			err = rows.Scan(
				&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
				&u.ResetToken, &u.ResetTokenExpiresAt,
				&u.CreatedAt, &u.UpdatedAt, &t,
			)

			if err != nil {
				return err
			}

			total = t
			output = append(output, u)
		}

		if err := rows.Err(); err != nil {
			return err
		}

		// A page past the end returns no rows, so the windowed total never
		// gets scanned; the count still has to reflect matching records.
		if len(output) == 0 {
			return r.pool.QueryRow(ctx, countQuery, condArgs...).Scan(&total)
		}

		return nil
	})

	if err != nil {
		return nil, 0, err
	}

	return output, total, nil
}

func (r *UsersRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// SetResetTokenTx stores a reset token and its expiry on the user's record
// inside the caller's transaction, so token persistence and the mail job
// enqueue commit together.
func (r *UsersRepo) SetResetTokenTx(ctx context.Context, tx pgx.Tx, email, token string, expiresAt time.Time) error {
	var tag pgconn.CommandTag
	var err error

	op := "users.set_reset_token"

	err = r.observe(op, func() error {
		tag, err = tx.Exec(ctx, `
			UPDATE users
			SET reset_token = $2,
			    reset_token_expires_at = $3,
			    updated_at = NOW()
			WHERE email = $1
		`, email, token, expiresAt)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}

// ClaimResetToken validates, consumes, and clears the token in a single
// statement: the new password lands and the token dies atomically, so a
// token can never be used twice.
func (r *UsersRepo) ClaimResetToken(ctx context.Context, token, newPasswordHash string) (user.User, error) {
	var u user.User
	var err error

	op := "users.claim_reset_token"

	err = r.observe(op, func() error {
		u, err = scanUser(r.pool.QueryRow(ctx, `
			UPDATE users
			SET password_hash = $2,
			    reset_token = NULL,
			    reset_token_expires_at = NULL,
			    updated_at = NOW()
			WHERE reset_token = $1
			  AND reset_token_expires_at > NOW()
			RETURNING `+userColumns,
			token, newPasswordHash,
		))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrResetTokenInvalid
		}
		return user.User{}, err
	}

	return u, nil
}
