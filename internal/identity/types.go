package identity

import (
	"errors"
	"fmt"
	"time"
)

// Role tags an account. The gateway only distinguishes admin from user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is a local identity provider record.
type Account struct {
	UID          string
	Email        string
	PasswordHash string
	Role         Role
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the user document created at registration.
type Profile struct {
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Nombre      string    `json:"nombre"`
	ApellidoP   string    `json:"apellidoP"`
	ApellidoM   string    `json:"apellidoM"`
	FechaNac    string    `json:"fechaNac"`
	Telefono    string    `json:"telefono"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Registration is the /auth/register request body.
type Registration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Nombre      string `json:"nombre"`
	ApellidoP   string `json:"apellidoP"`
	ApellidoM   string `json:"apellidoM"`
	FechaNac    string `json:"fechaNac"`
	Telefono    string `json:"telefono"`
}

// Tokens is what a successful sign-in returns. ExpiresIn is a decimal
// string of seconds, matching the identity toolkit wire format.
type Tokens struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	UID          string `json:"uid"`
	ExpiresIn    string `json:"expiresIn"`
}

// Claims are the verified contents of a bearer token.
type Claims struct {
	UID       string
	Email     string
	Role      Role
	ExpiresAt time.Time
}

// Sentinel errors for identity operations. Registration messages mirror the
// upstream provider so clients see the same text in both modes.
//
//nolint:staticcheck // ST1005: capitalised upstream messages
var (
	ErrMissingCredentials = errors.New("email y password son requeridos")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("The email address is improperly formatted.")
	ErrWeakPassword       = errors.New("The password must be a string with at least 6 characters.")
	ErrEmailExists        = errors.New("The email address is already in use by another account.")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenReuse         = errors.New("refresh token reuse detected")
)

// UpstreamError carries an identity provider failure with the HTTP status
// the gateway should pass through to its caller.
type UpstreamError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("identity provider (%d): %s", e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
