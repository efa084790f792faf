package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// Claims is the verified identity extracted from a token.
type Claims struct {
	PrincipalID string
	Address     string
	Role        Role
}

// LoginResult bundles the token and principal returned after a successful
// login.
type LoginResult struct {
	Token     string
	Principal Principal
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.DisplayName == "" {
		return nil, fmt.Errorf("auth: email and display_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleParty
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("auth: invalid role %q", role)
	}

	var address *string
	if req.Address != "" {
		address = &req.Address
	}

	principal, err := s.repo.CreatePrincipal(ctx, CreatePrincipalParams{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: string(passwordHash),
		Address:      address,
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	return &principal, nil
}

// Login authenticates an account and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	principal, err := s.repo.GetPrincipalByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(principal)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:     token,
		Principal: principal,
	}, nil
}

// GetPrincipalByID retrieves account information by ID.
func (s *Service) GetPrincipalByID(ctx context.Context, id string) (*Principal, error) {
	principal, err := s.repo.GetPrincipalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &principal, nil
}

// VerifyToken validates a JWT token and returns the embedded claims.
func (s *Service) VerifyToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("auth: parse token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, fmt.Errorf("auth: invalid token")
	}

	principalID, ok := mapClaims["principal_id"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("auth: invalid principal_id in token")
	}
	roleStr, ok := mapClaims["role"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("auth: invalid role in token")
	}
	role := Role(roleStr)
	if !ValidRole(role) {
		return Claims{}, fmt.Errorf("auth: invalid role %q in token", roleStr)
	}
	address, _ := mapClaims["address"].(string)

	return Claims{PrincipalID: principalID, Address: address, Role: role}, nil
}

// generateToken creates a JWT token for the principal.
func (s *Service) generateToken(p Principal) (string, error) {
	claims := jwt.MapClaims{
		"principal_id": p.ID,
		"role":         p.Role,
		"exp":          time.Now().Add(24 * time.Hour).Unix(),
		"iat":          time.Now().Unix(),
	}
	if p.Address != nil {
		claims["address"] = *p.Address
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidRole reports whether role is one of the recognised roles.
func ValidRole(role Role) bool {
	switch role {
	case RoleParty, RoleArbiter, RoleAdmin:
		return true
	default:
		return false
	}
}
