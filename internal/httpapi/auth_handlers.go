package httpapi

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"havenregistry.org/internal/audit"
	"havenregistry.org/internal/auth"
)

type tokenRequest struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
	Password    string `json:"password,omitempty"`
}

// passwordHashEnvVariable, when set, holds a bcrypt hash every token request
// must match. Deployments exposing the endpoint beyond localhost set it;
// local development leaves it empty.
const passwordHashEnvVariable = "HAVEN_TOKEN_PASSWORD_HASH"

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principalID := strings.TrimSpace(req.PrincipalID)
	if principalID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id is required")
		return
	}
	role := auth.NormalizeRole(req.Role)
	if role == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}
	if hash := os.Getenv(passwordHashEnvVariable); hash != "" {
		if err := auth.VerifyPassword(hash, req.Password); err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
	}

	token, err := auth.GenerateToken(principalID, role, tokenTTL)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownRole) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"principal_id": principalID,
		"role":         role,
		"expires_at":   expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
