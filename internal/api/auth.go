package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/penpal/internal/auth"
	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/identity"
	"github.com/ashureev/penpal/internal/store"
	"github.com/go-chi/chi/v5"
)

// AuthHandler serves registration, login and the current user.
type AuthHandler struct {
	*Handler
	auth  *auth.Manager
	users store.UserStore
	// signInLimit throttles register and login per client IP; nil disables it.
	signInLimit func(http.Handler) http.Handler
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(base *Handler, manager *auth.Manager, users store.UserStore, signInLimit func(http.Handler) http.Handler) *AuthHandler {
	return &AuthHandler{Handler: base, auth: manager, users: users, signInLimit: signInLimit}
}

// RegisterRoutes registers auth routes on the /api router.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.signInLimit != nil {
				r.Use(h.signInLimit)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})
		r.Post("/logout", h.Logout)
		r.With(identity.RequireUser).Get("/me", h.Me)
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

// Register creates an account and signs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}

	res, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			ErrorCode(w, http.StatusConflict, CodeAlreadyExists, "an account with this email already exists")
			return
		}
		h.WriteError(w, r, err)
		return
	}
	h.signIn(w, http.StatusCreated, res)
}

// Login verifies credentials and sets the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			ErrorCode(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid email or password")
			return
		}
		h.WriteError(w, r, err)
		return
	}
	h.signIn(w, http.StatusOK, res)
}

func (h *AuthHandler) signIn(w http.ResponseWriter, status int, res *auth.LoginResult) {
	identity.SetSessionCookie(w, res.Token, res.ExpiresAt, h.isDev)
	JSON(w, status, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      toUserResponse(res.User),
	})
}

// Logout revokes the request's token and clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := identity.TokenFromRequest(r); token != "" {
		err := h.auth.Logout(r.Context(), token)
		if err != nil && !errors.Is(err, domain.ErrUnauthenticated) {
			h.WriteError(w, r, err)
			return
		}
	}
	identity.ClearSessionCookie(w, h.isDev)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	if user == nil {
		ErrorCode(w, http.StatusUnauthorized, CodeUnauthenticated, "user not found")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}
