package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"

	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

const (
	// SessionHeader carries the session id for clients that do not keep cookies.
	SessionHeader = "X-Session-ID"
	// CSRFHeader carries the session's CSRF token; CSRFField is the same
	// token as a form or query value.
	CSRFHeader = "X-CSRF-Token"
	CSRFField  = "csrf_token"
)

type sessionKey struct{}

type sessionInfo struct {
	id         string
	csrfToken  string
	fromHeader bool
	created    bool
}

// SessionStore is the part of the chat service the middleware needs.
type SessionStore interface {
	CreateSession(ctx context.Context) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
}

// SessionOptions controls the session cookie.
type SessionOptions struct {
	CookieName string
	Secure     bool
}

// Session resolves the caller's session from the header or cookie, creating
// a fresh one when none is presented or the old one expired.
func Session(store SessionStore, opts SessionOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id := r.Header.Get(SessionHeader)
			fromHeader := id != ""
			if id == "" {
				if cookie, err := r.Cookie(opts.CookieName); err == nil {
					id = cookie.Value
				}
			}

			var info sessionInfo
			if id != "" {
				session, err := store.GetSession(ctx, id)
				switch {
				case err == nil:
					info = sessionInfo{id: session.ID, csrfToken: session.CSRFToken, fromHeader: fromHeader}
				case errors.Is(err, chatService.ErrSessionNotFound):
					log.Printf("[session] unknown session=%s, starting a new one", id)
				default:
					utils.RespondError(w, http.StatusInternalServerError, err.Error())
					return
				}
			}

			if info.id == "" {
				session, err := store.CreateSession(ctx)
				if err != nil {
					utils.RespondError(w, http.StatusInternalServerError, err.Error())
					return
				}
				info = sessionInfo{id: session.ID, csrfToken: session.CSRFToken, created: true}
			}
			id = info.id

			http.SetCookie(w, &http.Cookie{
				Name:     opts.CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})
			w.Header().Set(SessionHeader, id)

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey{}, info)))
		})
	}
}

// SessionID returns the session id resolved by Session, or "".
func SessionID(ctx context.Context) string {
	info, _ := ctx.Value(sessionKey{}).(sessionInfo)
	return info.id
}

// SessionCreated reports whether Session created the session for this request.
func SessionCreated(ctx context.Context) bool {
	info, _ := ctx.Value(sessionKey{}).(sessionInfo)
	return info.created
}

// CSRFToken returns the CSRF token of the session resolved by Session.
func CSRFToken(ctx context.Context) string {
	info, _ := ctx.Value(sessionKey{}).(sessionInfo)
	return info.csrfToken
}

// RequireCSRF rejects requests authenticated only by the session cookie unless
// they carry the session's CSRF token in CSRFHeader or the CSRFField value.
// Requests naming their session in SessionHeader pass, since browsers never
// attach that header to cross-site requests on their own.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validCSRF(r) {
			log.Printf("[session] rejected %s %s without csrf token", r.Method, r.URL.Path)
			utils.RespondError(w, http.StatusForbidden, "missing or invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCSRFUnsafe applies RequireCSRF to every method except GET, HEAD and
// OPTIONS.
func RequireCSRFUnsafe(next http.Handler) http.Handler {
	guarded := RequireCSRF(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			guarded.ServeHTTP(w, r)
		}
	})
}

func validCSRF(r *http.Request) bool {
	info, ok := r.Context().Value(sessionKey{}).(sessionInfo)
	if !ok || info.id == "" {
		return false
	}
	if info.fromHeader {
		return true
	}

	token := r.Header.Get(CSRFHeader)
	if token == "" {
		token = r.FormValue(CSRFField)
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(info.csrfToken)) == 1
}
