package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds authentication settings
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"` // plaintext or bcrypt hash
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// ConfigFromEnv reads AUTH_ENABLED, AUTH_USERNAME, AUTH_PASSWORD, JWT_SECRET
// and JWT_EXPIRY
func ConfigFromEnv() Config {
	cfg := Config{
		Enabled:   os.Getenv("AUTH_ENABLED") == "true",
		Username:  os.Getenv("AUTH_USERNAME"),
		Password:  os.Getenv("AUTH_PASSWORD"),
		JWTSecret: os.Getenv("JWT_SECRET"),
	}
	if exp := os.Getenv("JWT_EXPIRY"); exp != "" {
		if d, err := time.ParseDuration(exp); err == nil {
			cfg.JWTExpiry = d
		}
	}
	return cfg
}

// Authenticator handles user authentication
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *sessionTokens
}

// NewAuthenticator creates an authenticator whose tokens are only valid for
// the given pipeline session
func NewAuthenticator(cfg Config, session string) (*Authenticator, error) {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled {
		if cfg.Password == "" {
			return nil, errors.New("auth enabled without a password")
		}
		// Check if password is already a bcrypt hash
		if len(cfg.Password) == 60 && cfg.Password[0] == '$' {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, err
			}
			passwordHash = hash
		}
	}

	tokens, err := newSessionTokens(cfg.JWTSecret, cfg.JWTExpiry, session)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     username,
		passwordHash: passwordHash,
		tokens:       tokens,
	}, nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a token granting scopes,
// or every scope when none are given
func (a *Authenticator) Authenticate(username, password string, scopes ...Scope) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	if len(scopes) == 0 {
		scopes = AllScopes
	}
	token, expiresAt, err := a.tokens.issue(username, scopes)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken checks signature, expiry and session binding
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.verify(token)
}

// loginRequest may ask for a narrower token, e.g. a view-only one to hand
// to someone watching the preview
type loginRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Scopes   []string `json:"scopes,omitempty"`
}

type loginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt int64   `json:"expires_at"`
	Scopes    []Scope `json:"scopes"`
}

// LoginHandler exchanges credentials for a token
func (a *Authenticator) LoginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
			return
		}

		scopes := make([]Scope, 0, len(req.Scopes))
		for _, name := range req.Scopes {
			scope, err := ParseScope(name)
			if err != nil {
				http.Error(w, `{"error": "unknown scope"}`, http.StatusBadRequest)
				return
			}
			scopes = append(scopes, scope)
		}
		if len(scopes) == 0 {
			scopes = AllScopes
		}

		token, expiresAt, err := a.Authenticate(req.Username, req.Password, scopes...)
		switch {
		case errors.Is(err, ErrAuthDisabled):
			http.Error(w, `{"error": "authentication is disabled"}`, http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, `{"error": "invalid credentials"}`, http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{Token: token, ExpiresAt: expiresAt, Scopes: scopes})
	})
}

// HashPassword creates a bcrypt hash of a password (utility function)
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
