package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Summarization providers a user may configure. Exactly these two are
// accepted; anything else is rejected at upsert time.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultMeetingTitle is used when a meeting is stored without a title.
const DefaultMeetingTitle = "Untitled Meeting"

type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	RetentionDays   int       `json:"retention_days"`
	DefaultTemplate string    `json:"default_template"`
	CreatedAt       time.Time `json:"created_at"`
}

type IntegrationConfig struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	APIKey    string    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meeting is the durable record produced by the ingestion pipeline.
// Transcript and Summary are nil until produced; a nil Summary on an
// otherwise complete meeting means summarization failed for that run.
type Meeting struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Title      string     `json:"title"`
	Transcript *string    `json:"transcript"`
	Summary    *string    `json:"summary"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "automeet.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			retention_days INTEGER NOT NULL DEFAULT 30,
			default_template TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS auth_sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create auth_sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS integration_configs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			provider TEXT NOT NULL,
			api_key TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create integration_configs table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS meetings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT 'Untitled Meeting',
			transcript TEXT,
			summary TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create meetings table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_meetings_user_created ON meetings(user_id, created_at)"); err != nil {
		return fmt.Errorf("create meetings index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_meetings_expires_at ON meetings(expires_at)"); err != nil {
		return fmt.Errorf("create meetings expiry index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateUser(user User) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO users(id, email, password_hash, retention_days, default_template, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.RetentionDays,
		user.DefaultTemplate,
		user.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create user %s: %w", user.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(id string) (User, error) {
	return s.getUser(`SELECT id, email, password_hash, retention_days, default_template, created_at FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) GetUserByEmail(email string) (User, error) {
	return s.getUser(`SELECT id, email, password_hash, retention_days, default_template, created_at FROM users WHERE email = ?`, email)
}

func (s *SQLiteStore) getUser(query, arg string) (User, error) {
	row := s.db.QueryRow(query, arg)

	var user User
	var createdAt string
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.RetentionDays, &user.DefaultTemplate, &createdAt); err != nil {
		return User{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parse user %s created_at: %w", user.ID, err)
	}
	user.CreatedAt = parsed

	return user, nil
}

func (s *SQLiteStore) UpdateUserPreferences(userID string, retentionDays int, defaultTemplate string) error {
	res, err := s.db.Exec(
		`UPDATE users SET retention_days = ?, default_template = ? WHERE id = ?`,
		retentionDays,
		defaultTemplate,
		userID,
	)
	if err != nil {
		return fmt.Errorf("update preferences for user %s: %w", userID, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) CreateAuthSession(token, userID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO auth_sessions(token, user_id, expires_at) VALUES(?, ?, ?)`,
		token,
		userID,
		expiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create auth session: %w", err)
	}
	return nil
}

// GetAuthSession resolves a token to its user id. Expired sessions are
// reported as sql.ErrNoRows.
func (s *SQLiteStore) GetAuthSession(token string, now time.Time) (string, error) {
	row := s.db.QueryRow(`SELECT user_id, expires_at FROM auth_sessions WHERE token = ?`, token)

	var userID, expiresAt string
	if err := row.Scan(&userID, &expiresAt); err != nil {
		return "", err
	}

	expiry, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return "", fmt.Errorf("parse auth session expires_at: %w", err)
	}
	if !now.UTC().Before(expiry) {
		_, _ = s.db.Exec(`DELETE FROM auth_sessions WHERE token = ?`, token)
		return "", sql.ErrNoRows
	}

	return userID, nil
}

func (s *SQLiteStore) DeleteAuthSession(token string) error {
	if _, err := s.db.Exec(`DELETE FROM auth_sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete auth session: %w", err)
	}
	return nil
}

// UpsertIntegrationConfig stores the summarization provider and API key for
// a user, replacing any existing row for that user.
func (s *SQLiteStore) UpsertIntegrationConfig(cfg IntegrationConfig) error {
	if cfg.Provider != ProviderOpenAI && cfg.Provider != ProviderGemini {
		return fmt.Errorf("unknown provider %q: supported providers are %s, %s", cfg.Provider, ProviderOpenAI, ProviderGemini)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return errors.New("api key is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO integration_configs(id, user_id, provider, api_key, updated_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET provider = excluded.provider, api_key = excluded.api_key, updated_at = excluded.updated_at`,
		cfg.ID,
		cfg.UserID,
		cfg.Provider,
		cfg.APIKey,
		cfg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert integration config for user %s: %w", cfg.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetIntegrationConfig(userID string) (IntegrationConfig, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, provider, api_key, updated_at FROM integration_configs WHERE user_id = ?`,
		userID,
	)

	var cfg IntegrationConfig
	var updatedAt string
	if err := row.Scan(&cfg.ID, &cfg.UserID, &cfg.Provider, &cfg.APIKey, &updatedAt); err != nil {
		return IntegrationConfig{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return IntegrationConfig{}, fmt.Errorf("parse integration config updated_at: %w", err)
	}
	cfg.UpdatedAt = parsed

	return cfg, nil
}

func (s *SQLiteStore) InsertMeeting(m Meeting) error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("meeting id is required")
	}
	if strings.TrimSpace(m.Title) == "" {
		m.Title = DefaultMeetingTitle
	}

	var expiresAt any
	if m.ExpiresAt != nil {
		expiresAt = m.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.Exec(
		`INSERT INTO meetings(id, user_id, title, transcript, summary, created_at, expires_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.OwnerID,
		m.Title,
		nullable(m.Transcript),
		nullable(m.Summary),
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert meeting %s: %w", m.ID, err)
	}
	return nil
}

// GetMeeting fetches a meeting scoped to its owner. A foreign owner sees
// sql.ErrNoRows, the same as a missing record.
func (s *SQLiteStore) GetMeeting(id, ownerID string) (Meeting, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, title, transcript, summary, created_at, expires_at
		 FROM meetings WHERE id = ? AND user_id = ?`,
		id,
		ownerID,
	)
	return scanMeeting(row)
}

func (s *SQLiteStore) ListMeetings(ownerID string) ([]Meeting, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, title, transcript, summary, created_at, expires_at
		 FROM meetings
		 WHERE user_id = ?
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list meetings for user %s: %w", ownerID, err)
	}
	defer func() { _ = rows.Close() }()

	meetings := make([]Meeting, 0, 16)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meeting rows: %w", err)
	}

	return meetings, nil
}

func (s *SQLiteStore) UpdateMeetingTitle(id, ownerID, title string) error {
	if strings.TrimSpace(title) == "" {
		title = DefaultMeetingTitle
	}

	res, err := s.db.Exec(
		`UPDATE meetings SET title = ? WHERE id = ? AND user_id = ?`,
		title,
		id,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("update meeting %s title: %w", id, err)
	}
	return requireRow(res)
}

// DeleteMeeting removes a meeting only when the owner matches; any other
// caller gets sql.ErrNoRows and the record is untouched.
func (s *SQLiteStore) DeleteMeeting(id, ownerID string) error {
	res, err := s.db.Exec(`DELETE FROM meetings WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete meeting %s: %w", id, err)
	}
	return requireRow(res)
}

// PurgeExpired deletes meetings whose expires_at has passed and returns how
// many rows were removed.
func (s *SQLiteStore) PurgeExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM meetings WHERE expires_at IS NOT NULL AND expires_at < ?`,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired meetings: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired rows affected: %w", err)
	}
	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (Meeting, error) {
	var m Meeting
	var transcript, summary, expiresAt sql.NullString
	var createdAt string

	if err := row.Scan(&m.ID, &m.OwnerID, &m.Title, &transcript, &summary, &createdAt, &expiresAt); err != nil {
		return Meeting{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Meeting{}, fmt.Errorf("parse meeting %s created_at: %w", m.ID, err)
	}
	m.CreatedAt = parsed

	if transcript.Valid {
		m.Transcript = &transcript.String
	}
	if summary.Valid {
		m.Summary = &summary.String
	}
	if expiresAt.Valid {
		expiry, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return Meeting{}, fmt.Errorf("parse meeting %s expires_at: %w", m.ID, err)
		}
		m.ExpiresAt = &expiry
	}

	return m, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
