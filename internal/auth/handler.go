package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"cbtquiz/internal/app/apiresp"
)

type contextKey string

const (
	userContextKey contextKey = "auth_user"
	userSlotKey    contextKey = "auth_user_slot"
)

type userSlot struct {
	mu   sync.Mutex
	user *User
}

type authenticator interface {
	Authenticate(token string) (*User, error)
}

type Handler struct {
	svc authenticator
}

func NewHandler(svc authenticator) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.svc.Authenticate(readBearerToken(r))
		if err != nil {
			msg := "unauthorized"
			if errors.Is(err, ErrMissingToken) {
				msg = "missing bearer token"
			}
			apiresp.WriteError(w, r, http.StatusUnauthorized, msg)
			return
		}

		if slot, ok := r.Context().Value(userSlotKey).(*userSlot); ok {
			slot.mu.Lock()
			slot.user = user
			slot.mu.Unlock()
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

// WithUserSlot lets middleware running outside RequireAuth see who was
// authenticated further down the chain. The returned func reports the user
// once the inner handler has run.
func WithUserSlot(ctx context.Context) (context.Context, func() (*User, bool)) {
	if u, ok := CurrentUser(ctx); ok {
		return ctx, func() (*User, bool) { return u, true }
	}
	slot := &userSlot{}
	return context.WithValue(ctx, userSlotKey, slot), func() (*User, bool) {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		return slot.user, slot.user != nil
	}
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func readBearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
