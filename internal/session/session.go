// Package session holds the dashboard's sign-in state.
//
// A Session is the bearer credential returned by the gateway login plus the
// caller's identity. It is persisted CBOR-encoded in the local store's
// key/value table so the dashboard survives restarts, and exposed to HTTP
// clients as an oauth2.TokenSource.
//
// Manager is the single writer. Only its Login, Logout and refresh paths
// change the stored session; everything else reads it.
package session

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/oauth2"
)

// Role tags a session the same way the gateway tags accounts.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Session is an authenticated caller.
type Session struct {
	IDToken      string    `cbor:"1,keyasint"`
	RefreshToken string    `cbor:"2,keyasint,omitempty"`
	UID          string    `cbor:"3,keyasint"`
	Email        string    `cbor:"4,keyasint,omitempty"`
	Role         Role      `cbor:"5,keyasint,omitempty"`
	Expiry       time.Time `cbor:"6,keyasint"`
}

// Authenticated reports whether s carries a credential.
func (s Session) Authenticated() bool {
	return s.IDToken != ""
}

// Token returns s as an oauth2 bearer token.
func (s Session) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.IDToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry,
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(s Session) ([]byte, error) {
	return encMode.Marshal(s)
}

func decode(data []byte) (Session, error) {
	var s Session
	err := decMode.Unmarshal(data, &s)
	return s, err
}
