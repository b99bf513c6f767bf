package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/adlib/internal/db"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	cookieName = "adlib_session"
	sessionTTL = 14 * 24 * time.Hour
)

// Store authenticates local users and keeps the logged-in participant in a
// sealed cookie. The username in the session is what the matching backend
// sees as the participant identity.
type Store struct {
	sc *securecookie.SecureCookie
	db *db.DB
}

type ctxKey string

const sessionKey ctxKey = "session"

// Session is the decoded cookie.
type Session struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
}

func NewStore(d *db.DB, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Store{sc: sc, db: d}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// CreateUser stores a bcrypt hash; usernames are lower-cased emails.
func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if password == "" {
		return errors.New("password is required")
	}
	username = NormalizeUsername(username)
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `INSERT INTO users(username, password_bcrypt) VALUES ($1,$2)`, username, hash)
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (Session, error) {
	username = NormalizeUsername(username)
	var id int64
	var hash string
	err := s.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM users WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		if db.IsNotFound(err) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, db.WrapNotFound(err)
	}
	if !CheckPassword(hash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return Session{UserID: id, Username: username}, nil
}

// NormalizeUsername lower-cases and trims u. The result is the identity the
// matching backend receives, so it must be the participant's email.
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

var usernameValidator = validator.New()

// ValidateUsername checks that u, once normalized, is an email address.
func ValidateUsername(u string) error {
	if err := usernameValidator.Var(NormalizeUsername(u), "required,email"); err != nil {
		return fmt.Errorf("username %q must be the email the matching service knows", u)
	}
	return nil
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, sess Session) error {
	encoded, err := s.sc.Encode(cookieName, sess)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	var sess Session
	if err := s.sc.Decode(cookieName, c.Value, &sess); err != nil {
		return Session{}, false
	}
	if sess.UserID <= 0 || sess.Username == "" {
		return Session{}, false
	}
	return sess, true
}

// RequireAuth redirects anonymous browsers to /login.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionKey).(Session)
	return sess, ok
}
