package forum

import (
	"context"
	"crypto/subtle"
	"encoding/gob"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	sessionLoggedIn = "logged_in"
	sessionUserID   = "user_id"
	sessionUsername = "username"
	sessionFlashes  = "flashes"
	sessionCSRF     = "csrf_token"

	csrfFormField = "csrf_token"
)

// Flash categories.
const (
	FlashSuccess = "success"
	FlashDanger  = "danger"
	FlashWarning = "warning"
	FlashInfo    = "info"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string
	Message  string
}

func init() {
	gob.Register([]Flash{})
}

type SessionConfig struct {
	Lifetime time.Duration
	Secure   bool
}

// NewSessionManager returns an scs manager with an absolute lifetime (no
// idle timeout) persisting into store.
func NewSessionManager(store scs.Store, cfg SessionConfig) *scs.SessionManager {
	sm := scs.New()
	sm.Store = store
	sm.Lifetime = cfg.Lifetime
	if sm.Lifetime <= 0 {
		sm.Lifetime = 30 * time.Minute
	}
	sm.Cookie.Name = "nexushub_session"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.Secure
	sm.Cookie.Persist = true
	return sm
}

type viewerKey struct{}

// ViewerFrom returns the authenticated identity of the request, if any.
func ViewerFrom(ctx context.Context) (Viewer, bool) {
	v, ok := ctx.Value(viewerKey{}).(Viewer)
	return v, ok
}

func withViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, v)
}

// loadViewer copies the session identity into the request context.
func (h *Handlers) loadViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !h.sessions.GetBool(ctx, sessionLoggedIn) {
			next.ServeHTTP(w, r)
			return
		}
		v := Viewer{
			UserID:    h.sessions.GetInt64(ctx, sessionUserID),
			Username:  h.sessions.GetString(ctx, sessionUsername),
			ExpiresAt: h.sessions.Deadline(ctx),
		}
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Int64("user_id", v.UserID)
		})
		next.ServeHTTP(w, r.WithContext(withViewer(ctx, v)))
	})
}

// requireLogin redirects anonymous requests, and requests whose user no
// longer exists, to the login page with message.
func (h *Handlers) requireLogin(message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, ok := ViewerFrom(r.Context())
			if ok {
				_, err := h.svc.User(r.Context(), v.UserID)
				switch {
				case err == nil:
					next.ServeHTTP(w, r)
					return
				case !errors.Is(err, ErrNotFound):
					h.serverError(w, r, err)
					return
				}
				if err := h.endSession(r.Context()); err != nil {
					h.serverError(w, r, err)
					return
				}
			}
			h.flash(r, FlashWarning, message)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
		})
	}
}

// startSession rotates the session token before recording the identity.
func (h *Handlers) startSession(ctx context.Context, user *User) error {
	if err := h.sessions.RenewToken(ctx); err != nil {
		return err
	}
	h.sessions.Put(ctx, sessionLoggedIn, true)
	h.sessions.Put(ctx, sessionUserID, user.ID)
	h.sessions.Put(ctx, sessionUsername, user.Username)
	return nil
}

func (h *Handlers) endSession(ctx context.Context) error {
	if err := h.sessions.RenewToken(ctx); err != nil {
		return err
	}
	h.sessions.Remove(ctx, sessionLoggedIn)
	h.sessions.Remove(ctx, sessionUserID)
	h.sessions.Remove(ctx, sessionUsername)
	h.sessions.Remove(ctx, sessionCSRF)
	return nil
}

func (h *Handlers) flash(r *http.Request, category, message string) {
	ctx := r.Context()
	flashes, _ := h.sessions.Get(ctx, sessionFlashes).([]Flash)
	h.sessions.Put(ctx, sessionFlashes, append(flashes, Flash{Category: category, Message: message}))
}

func (h *Handlers) popFlashes(r *http.Request) []Flash {
	flashes, _ := h.sessions.Pop(r.Context(), sessionFlashes).([]Flash)
	return flashes
}

// csrfToken returns the session's form token, creating it on first use.
func (h *Handlers) csrfToken(r *http.Request) string {
	ctx := r.Context()
	token := h.sessions.GetString(ctx, sessionCSRF)
	if token == "" {
		token = uuid.NewString()
		h.sessions.Put(ctx, sessionCSRF, token)
	}
	return token
}

// verifyCSRF rejects state-changing requests whose form token does not
// match the session's.
func (h *Handlers) verifyCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		want := h.sessions.GetString(r.Context(), sessionCSRF)
		got := r.PostFormValue(csrfFormField)
		if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			hlog.FromRequest(r).Warn().Str("path", r.URL.Path).Msg("csrf token mismatch")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CleanupSessions deletes expired session rows every interval until ctx is
// done. A non-positive interval disables it.
func CleanupSessions(ctx context.Context, store Store, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpiredSessions(ctx)
			if err != nil {
				log.Error().Err(err).Msg("session cleanup failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired sessions removed")
			}
		}
	}
}
