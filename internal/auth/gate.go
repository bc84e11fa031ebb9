// Package auth implements the cyberguard access-control gate: credential
// checks against the entity store, JWT-backed server-side sessions and
// role-based authorization.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/store"
)

// Gate authenticates users and authorizes their requests.
type Gate struct {
	store      store.Store
	sessions   *SessionManager
	logger     *slog.Logger
	validate   *validator.Validate
	bcryptCost int

	// dummyHash is compared against when the username is unknown so that
	// failed logins take the same time whichever field was wrong. It is
	// generated at bcryptCost on first use.
	dummyOnce sync.Once
	dummyHash []byte
}

// Option configures a Gate.
type Option func(*Gate)

// WithBcryptCost overrides the cost used when hashing new passwords.
func WithBcryptCost(cost int) Option {
	return func(g *Gate) { g.bcryptCost = cost }
}

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// NewGate creates a gate over st issuing sessions from sessions.
func NewGate(st store.Store, sessions *SessionManager, opts ...Option) *Gate {
	g := &Gate{
		store:      st,
		sessions:   sessions,
		logger:     slog.Default(),
		validate:   validator.New(),
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) dummy() []byte {
	g.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("cyberguard-dummy-password"), g.bcryptCost)
		if err != nil {
			g.logger.Warn("Failed to generate dummy hash", "cost", g.bcryptCost, "error", err)
			return
		}
		g.dummyHash = hash
	})
	return g.dummyHash
}

// Sessions returns the gate's session manager.
func (g *Gate) Sessions() *SessionManager {
	return g.sessions
}

// Authenticate checks that a user with username exists, that its email and
// password match and that it is active. Every failure returns the same
// InvalidCredentials error.
func (g *Gate) Authenticate(ctx context.Context, username, email, password string) (models.User, error) {
	user, err := store.FindAs[models.User](ctx, g.store, models.KindUsers, "username", username)
	if err != nil {
		if !errors.IsNotFound(err) {
			return models.User{}, fmt.Errorf("look up user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(g.dummy(), []byte(password))
		g.logger.Info("Login rejected", "username", username, "reason", "unknown user")
		return models.User{}, errors.ErrInvalidCredentials()
	}

	passwordOK := CheckPassword(user.PasswordHash, password)
	emailOK := user.Email == email

	if !passwordOK || !emailOK || !user.IsActive {
		g.logger.Info("Login rejected", "username", username, "user_id", user.ID)
		return models.User{}, errors.ErrInvalidCredentials()
	}
	return user, nil
}

// Login authenticates and binds the user into a new session.
func (g *Gate) Login(ctx context.Context, username, email, password string) (models.User, string, *Session, error) {
	user, err := g.Authenticate(ctx, username, email, password)
	if err != nil {
		return models.User{}, "", nil, err
	}
	token, session, err := g.sessions.Login(user)
	if err != nil {
		return models.User{}, "", nil, err
	}
	g.logger.Info("User logged in", "user_id", user.ID, "username", user.Username, "session_id", session.ID)
	return user, token, &session, nil
}

// Logout clears the session bound to token.
func (g *Gate) Logout(token string) {
	g.sessions.Logout(token)
}

// RequireSession returns the user id bound to s, or Unauthenticated.
func (g *Gate) RequireSession(s *Session) (string, error) {
	if s == nil || s.UserID == "" {
		return "", errors.ErrUnauthenticated()
	}
	return s.UserID, nil
}

// RequireRole returns Forbidden unless user holds exactly role.
func (g *Gate) RequireRole(user models.User, role models.Role) error {
	if user.Role != role {
		return errors.ErrForbidden(user.ID, string(role))
	}
	return nil
}

// CurrentUser loads the user bound to s.
func (g *Gate) CurrentUser(ctx context.Context, s *Session) (models.User, error) {
	userID, err := g.RequireSession(s)
	if err != nil {
		return models.User{}, err
	}
	return store.GetAs[models.User](ctx, g.store, models.KindUsers, userID)
}

// CreateUser validates nu, hashes its password and inserts the account.
// An empty role defaults to viewer.
func (g *Gate) CreateUser(ctx context.Context, nu models.NewUser) (models.User, error) {
	if nu.Role == "" {
		nu.Role = models.RoleViewer
	}
	if err := g.validate.Struct(nu); err != nil {
		return models.User{}, &errors.ValidationError{
			Code:    errors.CodeValidation,
			Message: "Invalid user",
			Field:   firstInvalidField(err),
			Cause:   err,
		}
	}

	hash, err := HashPasswordWithCost(nu.Password, g.bcryptCost)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: hash,
		Role:         nu.Role,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := g.store.Insert(ctx, user); err != nil {
		return models.User{}, err
	}
	g.logger.Info("User created", "user_id", user.ID, "username", user.Username, "role", user.Role)
	return user, nil
}

func firstInvalidField(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return strings.ToLower(verrs[0].Field())
	}
	return ""
}
