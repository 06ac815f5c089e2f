package api

import (
	"encoding/json"
	"net/http"

	"github.com/example/atelier-shop/internal/auth"
)

// Login authenticates the atelier admin against env-configured credentials
// and returns a bearer token. Customer tokens are issued by the storefront's
// identity service with the same signing secret.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Email != h.cfg.AdminEmail || !auth.CheckPassword(req.Password, h.cfg.AdminPasswordHash) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.tokens.Issue("admin", req.Email, auth.RoleAdmin)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_at":   expiresAt,
	})
}
