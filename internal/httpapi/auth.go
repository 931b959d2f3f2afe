package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin    = "ADMIN"
	RoleOperator = "OPERATOR"
	RoleAnalyst  = "ANALYST"

	sessionCookie = "courierops_session"
	sessionTTL    = 7 * 24 * time.Hour
)

type ctxKey string

const ctxUserKey ctxKey = "courierops_user"

// User is the staff member behind a session.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func userFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxUserKey).(User)
	return u, ok
}

var (
	errNoSession      = errors.New("not authenticated")
	errBadSession     = errors.New("invalid session")
	errUnknownSession = errors.New("session not found")
	errExpiredSession = errors.New("session expired")
)

// sessionFromCookie returns the session id carried by the request cookie.
func sessionFromCookie(r *http.Request) (uuid.UUID, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return uuid.Nil, errNoSession
	}
	sid, err := uuid.Parse(c.Value)
	if err != nil {
		return uuid.Nil, errBadSession
	}
	return sid, nil
}

// loadSession resolves a session to its user. Expired rows are removed on sight.
func (a *App) loadSession(ctx context.Context, sid uuid.UUID) (User, error) {
	var u User
	var expiresAt time.Time
	err := a.db.QueryRow(ctx, `
    SELECT u.id, u.name, u.email, u.role, s.expires_at
    FROM sessions s
    JOIN users u ON u.id = s.user_id
    WHERE s.id = $1
  `, sid).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, errUnknownSession
	}
	if err != nil {
		return User{}, err
	}
	if time.Now().After(expiresAt) {
		_, _ = a.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sid)
		return User{}, errExpiredSession
	}
	return u, nil
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, err := sessionFromCookie(r)
		if err != nil {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		u, err := a.loadSession(r.Context(), sid)
		switch {
		case errors.Is(err, errUnknownSession), errors.Is(err, errExpiredSession):
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		case err != nil:
			a.errorLog.Printf("load session: %v", err)
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "db error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey, u)))
	})
}

func (a *App) requireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := userFrom(r.Context())
			switch {
			case !ok:
				writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated")
			case !allowed[u.Role]:
				writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// setSessionCookie writes (or, with an empty value, clears) the session cookie.
func (a *App) setSessionCookie(w http.ResponseWriter, r *http.Request, value string, expires time.Time) {
	c := &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.cfg.CookieSecure || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"),
		Expires:  expires,
	}
	if value == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !decodeJSON(w, r, &body) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if !strings.Contains(email, "@") || strings.TrimSpace(body.Password) == "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password required")
		return
	}

	var u User
	var hash string
	err := a.db.QueryRow(r.Context(), `SELECT id, name, email, role, password_hash FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &hash)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(body.Password))
	}
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	sid := uuid.New()
	expires := time.Now().Add(sessionTTL)
	if _, err := a.db.Exec(r.Context(), `INSERT INTO sessions (id, user_id, expires_at) VALUES ($1,$2,$3)`, sid, u.ID, expires); err != nil {
		a.errorLog.Printf("create session for user %d: %v", u.ID, err)
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "could not create session")
		return
	}
	_, _ = a.db.Exec(r.Context(), `DELETE FROM sessions WHERE user_id = $1 AND expires_at < NOW()`, u.ID)

	a.setSessionCookie(w, r, sid.String(), expires)
	a.infoLog.Printf("user %d (%s) logged in", u.ID, u.Role)
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid, err := sessionFromCookie(r); err == nil {
		_, _ = a.db.Exec(r.Context(), `DELETE FROM sessions WHERE id = $1`, sid)
	}
	a.setSessionCookie(w, r, "", time.Unix(0, 0))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := userFrom(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}
