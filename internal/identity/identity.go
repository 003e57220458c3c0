// Package identity resolves the acting user: a signed bearer token when
// configured, otherwise an anonymous per-device cookie.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AnonCookieName   = "hydraflow_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
	lastSeenInterval = 5 * time.Minute
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	authenticatedKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

var errInvalidToken = errors.New("invalid bearer token")

// UserStore is the persistence identity needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Options configures the identity middleware.
type Options struct {
	// JWTSecret enables HS256 bearer tokens. The `sub` claim is the user ID.
	JWTSecret string
	IsDev     bool
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// IsAuthenticated reports whether the user came from a verified bearer token.
func IsAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(authenticatedKey).(bool)
	return v
}

// WithUser returns ctx carrying the given identity.
func WithUser(ctx context.Context, userID, username string, authenticated bool) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, usernameKey, username)
	return context.WithValue(ctx, authenticatedKey, authenticated)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

// ParseBearer validates an HS256 token and returns its subject and email claim.
func ParseBearer(tokenString, secret string) (subject, email string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errInvalidToken
	}
	subject, err = claims.GetSubject()
	if err != nil || subject == "" {
		return "", "", errInvalidToken
	}
	email, _ = claims["email"].(string)
	return subject, email, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), true
}

func ensureUser(ctx context.Context, repo UserStore, userID, username string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	if user != nil {
		if now.Sub(user.LastSeenAt) < lastSeenInterval {
			return nil
		}
		if err := repo.UpdateLastSeen(ctx, userID, now); err != nil {
			slog.Debug("Failed to update last seen", "user_id", userID, "error", err)
		}
		return nil
	}

	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   username,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// SignOut clears the anonymous identity cookie, so the next request starts a new user.
func SignOut(w http.ResponseWriter, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware injects the acting user into the request context. A bearer
// token is honoured when JWTSecret is set; requests without one fall back to
// the anonymous device cookie.
func Middleware(repo UserStore, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID, username string
			authenticated := false

			if token, ok := bearerToken(r); ok && opts.JWTSecret != "" {
				sub, email, err := ParseBearer(token, opts.JWTSecret)
				if err != nil {
					http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
					return
				}
				userID, authenticated = sub, true
				username = email
				if username == "" {
					username = "user-" + sub[:min(8, len(sub))]
				}
			} else {
				id, err := getOrCreateAnonID(w, r, opts.IsDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				userID, username = id, deriveUsername(id)
			}

			if err := ensureUser(r.Context(), repo, userID, username); err != nil {
				slog.Error("Failed to initialize user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, username, authenticated)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
