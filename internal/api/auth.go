package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/suntec-core/internal/audit"
	"github.com/nerrad567/suntec-core/internal/identity"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// registerResponse is the response body for POST /auth/register.
type registerResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// meResponse is the response body for GET /me. Profile is an empty object
// when the account has no profile document.
type meResponse struct {
	UID     string `json:"uid"`
	Email   string `json:"email"`
	Profile any    `json:"profile"`
}

// registrationErrors are surfaced to the caller verbatim with a 400.
var registrationErrors = []error{
	identity.ErrMissingCredentials,
	identity.ErrInvalidEmail,
	identity.ErrWeakPassword,
	identity.ErrEmailExists,
}

// handleRegister creates an account and its profile document.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	uid, email, err := s.identity.Register(r.Context(), req)
	if err != nil {
		s.auditLog(r, audit.ActionRegister, "", req.Email, map[string]any{"ok": false})
		var upstream *identity.UpstreamError
		if errors.As(err, &upstream) {
			writeBadRequest(w, upstream.Message)
			return
		}
		for _, known := range registrationErrors {
			if errors.Is(err, known) {
				writeBadRequest(w, known.Error())
				return
			}
		}
		s.logger.Error("registration failed", "error", err)
		writeInternalError(w, msgServerError)
		return
	}

	s.auditLog(r, audit.ActionRegister, uid, email, map[string]any{"ok": true})
	writeJSON(w, http.StatusOK, registerResponse{UID: uid, Email: email})
}

// handleLogin exchanges email and password for tokens. Provider failures
// keep their status code.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	tokens, err := s.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.auditLog(r, audit.ActionLoginFailed, "", req.Email, failureDetails(err))
		s.writeIdentityError(w, err, "login failed")
		return
	}
	s.auditLog(r, audit.ActionLogin, tokens.UID, req.Email, nil)

	writeJSON(w, http.StatusOK, tokens)
}

// handleRefresh exchanges a refresh token for a new ID token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, msgInvalidJSON)
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refreshToken es requerido")
		return
	}

	tokens, err := s.identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.auditLog(r, audit.ActionRefreshFailed, "", "", failureDetails(err))
		s.writeIdentityError(w, err, "token refresh failed")
		return
	}
	s.auditLog(r, audit.ActionRefresh, tokens.UID, "", nil)

	writeJSON(w, http.StatusOK, tokens)
}

// failureDetails keeps the provider's reason for a rejected credential.
func failureDetails(err error) map[string]any {
	var upstream *identity.UpstreamError
	if errors.As(err, &upstream) {
		return map[string]any{"status": upstream.Status, "reason": upstream.Message}
	}
	return map[string]any{"reason": err.Error()}
}

func (s *Server) writeIdentityError(w http.ResponseWriter, err error, logMsg string) {
	var upstream *identity.UpstreamError
	switch {
	case errors.Is(err, identity.ErrMissingCredentials):
		writeBadRequest(w, err.Error())
	case errors.As(err, &upstream):
		writeError(w, upstream.Status, upstream.Message)
	default:
		s.logger.Error(logMsg, "error", err)
		writeInternalError(w, msgServerError)
	}
}

// handleMe returns the caller and their profile document.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		writeUnauthorized(w, msgNoToken)
		return
	}

	profile, err := s.identity.Profile(r.Context(), claims.UID)
	if err != nil {
		s.logger.Error("loading profile failed", "uid", claims.UID, "error", err)
		writeInternalError(w, msgProfileError)
		return
	}

	resp := meResponse{UID: claims.UID, Email: claims.Email, Profile: struct{}{}}
	if profile != nil {
		resp.Profile = profile
	}
	writeJSON(w, http.StatusOK, resp)
}
