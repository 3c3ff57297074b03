package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnauthenticated = errors.New("user is not authenticated")
	ErrNoSecret        = errors.New("user has no cookie secret")
)

// UserRepo looks up registered users.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (User, bool, error)
}

type Options struct {
	UIDCookie   string
	TokenCookie string
	Domain      string
	Secure      bool
	MaxAge      time.Duration
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.UIDCookie) == "" {
		o.UIDCookie = "uid"
	}
	if strings.TrimSpace(o.TokenCookie) == "" {
		o.TokenCookie = "token"
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 365 * 24 * time.Hour
	}
	return o
}

type Service struct {
	users  UserRepo
	opts   Options
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(users UserRepo, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:  users,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// Resolve works out who is calling. A request without a uid cookie gets a fresh
// anonymous uid, written back to w. A uid that belongs to a registered user must
// come with a valid token signed by that user's secret.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) (Identity, error) {
	uid := ""
	if c, err := r.Cookie(s.opts.UIDCookie); err == nil {
		uid = strings.TrimSpace(c.Value)
	}
	if uid == "" {
		uid = s.newID()
		http.SetCookie(w, &http.Cookie{
			Name:     s.opts.UIDCookie,
			Value:    uid,
			Path:     "/",
			Domain:   s.opts.Domain,
			MaxAge:   int(s.opts.MaxAge.Seconds()),
			Secure:   s.opts.Secure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		return Identity{UserID: uid, Minted: true}, nil
	}

	if s.users == nil {
		return Identity{UserID: uid}, nil
	}
	u, ok, err := s.users.GetUser(r.Context(), uid)
	if err != nil {
		return Identity{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return Identity{UserID: uid}, nil
	}

	c, err := r.Cookie(s.opts.TokenCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	if err := s.verify(c.Value, u); err != nil {
		return Identity{}, err
	}
	return Identity{UserID: uid, Registered: true}, nil
}

// IssueToken signs a token for u valid for ttl.
func (s *Service) IssueToken(u User, ttl time.Duration) (string, time.Time, error) {
	if u.CookieSecret == "" {
		return "", time.Time{}, ErrNoSecret
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   u.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(u.CookieSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func (s *Service) verify(token string, u User) error {
	if u.CookieSecret == "" {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, ErrNoSecret)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(u.CookieSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject != u.ID {
		return fmt.Errorf("%w: token subject mismatch", ErrUnauthenticated)
	}
	return nil
}

// RequireAPI resolves the caller and stores the identity on the request context.
func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Resolve(w, r)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				writeErr(w, http.StatusUnauthorized, err.Error())
				return
			}
			s.logger.Error("resolve identity", zap.Error(err))
			writeErr(w, http.StatusInternalServerError, "identity unavailable")
			return
		}
		if id.Minted {
			s.logger.Debug("minted anonymous uid", zap.String("uid", id.UserID))
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// GET /api/identity
func (s *Service) Whoami(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := FromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
