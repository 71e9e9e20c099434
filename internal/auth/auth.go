package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/MartiGrau/AutoMeet/internal/storage"
)

const (
	defaultRetentionDays   = 30
	defaultSummaryTemplate = "Summarize into Key Decisions, Action Items, Open Questions"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// the login response does not leak which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned by Signup for an already registered email.
	ErrEmailTaken = errors.New("user already exists")
)

type Store interface {
	CreateUser(user storage.User) error
	GetUser(id string) (storage.User, error)
	GetUserByEmail(email string) (storage.User, error)
	CreateAuthSession(token, userID string, expiresAt time.Time) error
	GetAuthSession(token string, now time.Time) (string, error)
	DeleteAuthSession(token string) error
}

// Manager issues and resolves opaque session tokens and owns the user
// lifecycle.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	cost  int
}

func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		cost:  bcrypt.DefaultCost,
	}
}

func (m *Manager) Signup(email, password string) (storage.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return storage.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidCredentials)
	}

	if _, err := m.store.GetUserByEmail(email); err == nil {
		return storage.User{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return storage.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := storage.User{
		ID:              uuid.NewString(),
		Email:           email,
		PasswordHash:    string(hash),
		RetentionDays:   defaultRetentionDays,
		DefaultTemplate: defaultSummaryTemplate,
		CreatedAt:       m.now().UTC(),
	}
	if err := m.store.CreateUser(user); err != nil {
		return storage.User{}, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// Login verifies credentials and returns a fresh session token.
func (m *Manager) Login(email, password string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	user, err := m.store.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := m.store.CreateAuthSession(token, user.ID, m.now().UTC().Add(m.ttl)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return token, nil
}

func (m *Manager) Logout(token string) error {
	if token == "" {
		return nil
	}
	return m.store.DeleteAuthSession(token)
}

// Resolve maps a session token to its user id.
func (m *Manager) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidCredentials
	}

	userID, err := m.store.GetAuthSession(token, m.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return userID, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
