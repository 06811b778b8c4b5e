package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
)

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login", nil)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	raw, err := readInput(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	username, _ := raw["username"].(string)
	password, _ := raw["password"].(string)

	res, err := h.auth.Login(r.Context(), username, password)
	if errors.Is(err, domain.ErrUnauthenticated) {
		env := envelope{Message: "Usuario o contraseña incorrectos."}
		if wantsJSON(r) {
			writeJSON(w, http.StatusUnauthorized, env)
			return
		}
		h.render(w, r, http.StatusUnauthorized, "message", env)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	h.done(w, r, http.StatusOK, envelope{
		Message:  "Bienvenido, " + res.User.DisplayName() + ".",
		Redirect: res.Redirect,
		Data: map[string]any{
			"token":      res.Token,
			"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
			"user": map[string]any{
				"id":        res.User.ID,
				"username":  res.User.Username,
				"full_name": res.User.FullName,
				"superuser": res.User.Superuser,
				"groups":    res.User.Groups,
			},
		},
	}, "", nil)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), requestToken(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	h.done(w, r, http.StatusOK, envelope{Message: "Sesión cerrada.", Redirect: "/auth/login"}, "", nil)
}

func (h *Handler) listMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.menu.Visible(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		h.done(w, r, http.StatusOK, envelope{Data: items}, "", nil)
		return
	}
	h.render(w, r, http.StatusOK, "menu", items)
}
