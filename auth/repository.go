package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPrincipalNotFound signals that the account does not exist.
	ErrPrincipalNotFound = errors.New("auth: principal not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (Principal, error)
}

// CreatePrincipalParams contains write parameters for creating accounts.
type CreatePrincipalParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Address      *string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const principalColumns = `id, email, display_name, password_hash, address, role, created_at, updated_at`

// CreatePrincipal inserts a new account with hashed password.
func (r *PGRepository) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error) {
	insertSQL := `
		INSERT INTO principals (id, email, display_name, password_hash, address, role)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING ` + principalColumns

	p, err := scanPrincipal(r.pool.QueryRow(ctx, insertSQL,
		params.Email, params.DisplayName, params.PasswordHash, params.Address, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Principal{}, ErrDuplicateEmail
		}
		return Principal{}, fmt.Errorf("auth: create principal: %w", err)
	}
	return p, nil
}

// GetPrincipalByEmail retrieves an account by email address.
func (r *PGRepository) GetPrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	selectSQL := `SELECT ` + principalColumns + ` FROM principals WHERE email = $1`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("auth: get principal by email: %w", err)
	}
	return p, nil
}

// GetPrincipalByID retrieves an account by ID.
func (r *PGRepository) GetPrincipalByID(ctx context.Context, id string) (Principal, error) {
	selectSQL := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("auth: get principal by id: %w", err)
	}
	return p, nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.DisplayName,
		&p.PasswordHash,
		&p.Address,
		&p.Role,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Principal{}, err
	}
	return p, nil
}
