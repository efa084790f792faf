package auth

import "time"

type Role string

const (
	// RoleParty is a transaction participant: may open disputes and submit
	// evidence on cases it is a party to.
	RoleParty Role = "party"
	// RoleArbiter may finalize cases in the human-review queue.
	RoleArbiter Role = "arbiter"
	// RoleAdmin may do both.
	RoleAdmin Role = "admin"
)

// Principal is the domain representation of an authenticated account.
// It mirrors the principals table and carries no JSON annotations so it can
// be reused by different presentation layers.
type Principal struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	// Address is the principal's domain address, present for parties so
	// evidence submissions can be attributed to a side of the dispute.
	Address   *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Address     string `json:"address,omitempty"`
	Role        Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
