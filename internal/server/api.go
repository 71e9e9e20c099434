package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MartiGrau/AutoMeet/internal/auth"
	"github.com/MartiGrau/AutoMeet/internal/pipeline"
	"github.com/MartiGrau/AutoMeet/internal/recorder"
	"github.com/MartiGrau/AutoMeet/internal/storage"
)

const (
	sessionCookie = "automeet_session"

	// Uploads larger than this are rejected before any provider call.
	maxUploadBytes = 64 << 20
)

// MeetingStore is the subset of the storage layer the HTTP API needs.
type MeetingStore interface {
	GetUser(id string) (storage.User, error)
	UpdateUserPreferences(userID string, retentionDays int, defaultTemplate string) error
	UpsertIntegrationConfig(cfg storage.IntegrationConfig) error
	GetIntegrationConfig(userID string) (storage.IntegrationConfig, error)
	GetMeeting(id, ownerID string) (storage.Meeting, error)
	ListMeetings(ownerID string) ([]storage.Meeting, error)
	UpdateMeetingTitle(id, ownerID, title string) error
	DeleteMeeting(id, ownerID string) error
}

// Authenticator manages accounts and login sessions.
type Authenticator interface {
	Signup(email, password string) (storage.User, error)
	Login(email, password string) (string, error)
	Logout(token string) error
	Resolve(token string) (string, error)
}

// MeetingMailer emails a stored meeting to its owner.
type MeetingMailer interface {
	SendMeeting(ctx context.Context, toEmail string, meeting storage.Meeting) error
}

type api struct {
	store     MeetingStore
	auth      Authenticator
	processor Processor
	recorder  *RecorderControl
	mailer    MeetingMailer
	hub       *Hub
}

func registerAPIRoutes(mux *http.ServeMux, a *api) {
	mux.HandleFunc("POST /api/auth/signup", a.handleSignup)
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	mux.HandleFunc("GET /api/me", a.handleMe)

	mux.HandleFunc("GET /api/settings", a.handleGetSettings)
	mux.HandleFunc("POST /api/settings", a.handleUpdateSettings)

	mux.HandleFunc("GET /api/analytics", a.handleAnalytics)

	mux.HandleFunc("POST /api/meetings", a.handleUploadMeeting)
	mux.HandleFunc("GET /api/meetings", a.handleListMeetings)
	mux.HandleFunc("GET /api/meetings/{id}", a.handleGetMeeting)
	mux.HandleFunc("PATCH /api/meetings/{id}", a.handleRenameMeeting)
	mux.HandleFunc("DELETE /api/meetings/{id}", a.handleDeleteMeeting)
	mux.HandleFunc("POST /api/meetings/{id}/email", a.handleEmailMeeting)

	mux.HandleFunc("POST /api/recorder/start", a.handleRecorderStart)
	mux.HandleFunc("POST /api/recorder/pause", a.recorderOp((*RecorderControl).Pause))
	mux.HandleFunc("POST /api/recorder/resume", a.recorderOp((*RecorderControl).Resume))
	mux.HandleFunc("POST /api/recorder/stop", a.recorderOp((*RecorderControl).Stop))
	mux.HandleFunc("POST /api/recorder/reset", a.recorderOp((*RecorderControl).Reset))
	mux.HandleFunc("GET /api/recorder/status", a.handleRecorderStatus)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *api) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.auth.Signup(req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			writeJSONError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("signup: %v", err))
		}
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := a.auth.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSONError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("login: %v", err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := a.auth.Logout(token); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("logout: %v", err))
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	user, err := a.store.GetUser(userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get user: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type settingsResponse struct {
	Provider        string `json:"provider"`
	APIKeySet       bool   `json:"api_key_set"`
	RetentionDays   int    `json:"retention_days"`
	DefaultTemplate string `json:"default_template"`
}

func (a *api) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	user, err := a.store.GetUser(userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get user: %v", err))
		return
	}

	resp := settingsResponse{
		RetentionDays:   user.RetentionDays,
		DefaultTemplate: user.DefaultTemplate,
	}

	cfg, err := a.store.GetIntegrationConfig(userID)
	switch {
	case err == nil:
		resp.Provider = cfg.Provider
		resp.APIKeySet = cfg.APIKey != ""
	case errors.Is(err, sql.ErrNoRows):
		// settings page before first configuration
	default:
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get integration config: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type settingsRequest struct {
	Provider        string  `json:"provider"`
	APIKey          string  `json:"api_key"`
	RetentionDays   *int    `json:"retention_days"`
	DefaultTemplate *string `json:"default_template"`
}

func (a *api) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Provider != "" || req.APIKey != "" {
		if req.Provider == "" || req.APIKey == "" {
			writeJSONError(w, http.StatusBadRequest, "provider and api_key must be set together")
			return
		}
		err := a.store.UpsertIntegrationConfig(storage.IntegrationConfig{
			UserID:   userID,
			Provider: req.Provider,
			APIKey:   req.APIKey,
		})
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("save integration config: %v", err))
			return
		}
	}

	if req.RetentionDays != nil || req.DefaultTemplate != nil {
		user, err := a.store.GetUser(userID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get user: %v", err))
			return
		}

		retention := user.RetentionDays
		if req.RetentionDays != nil {
			if *req.RetentionDays < 0 {
				writeJSONError(w, http.StatusBadRequest, "retention_days must not be negative")
				return
			}
			retention = *req.RetentionDays
		}
		template := user.DefaultTemplate
		if req.DefaultTemplate != nil {
			template = *req.DefaultTemplate
		}

		if err := a.store.UpdateUserPreferences(userID, retention, template); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("update preferences: %v", err))
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

type uploadResponse struct {
	Success       bool            `json:"success"`
	MeetingID     string          `json:"meetingId"`
	Meeting       storage.Meeting `json:"meeting"`
	SummaryFailed bool            `json:"summary_failed"`
}

func (a *api) handleUploadMeeting(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer func() { _ = file.Close() }()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("read audio: %v", err))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	result, err := a.processor.Process(r.Context(), pipeline.Request{
		CallerID: userID,
		Audio:    audio,
		MIMEType: mimeType,
	})
	if err != nil {
		writeJSONError(w, uploadStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Success:       true,
		MeetingID:     result.Meeting.ID,
		Meeting:       result.Meeting,
		SummaryFailed: result.SummaryErr != nil,
	})
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pipeline.ErrNoAudio), errors.Is(err, pipeline.ErrConfigMissing):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrTranscription), errors.Is(err, pipeline.ErrEmptyTranscript):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type analyticsResponse struct {
	TotalMeetings           int `json:"total_meetings"`
	SummarizedMeetings      int `json:"summarized_meetings"`
	AverageTranscriptLength int `json:"average_transcript_length"`
	RecentMeetings          int `json:"recent_meetings"`
}

// handleAnalytics reports per-user meeting statistics: totals, how many got
// a summary, average transcript length in characters, and volume over the
// last seven days.
func (a *api) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	meetings, err := a.store.ListMeetings(userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list meetings: %v", err))
		return
	}

	var stats analyticsResponse
	var transcribed, totalChars int
	cutoff := time.Now().UTC().AddDate(0, 0, -7)

	for _, m := range meetings {
		stats.TotalMeetings++
		if m.Summary != nil && *m.Summary != "" {
			stats.SummarizedMeetings++
		}
		if m.Transcript != nil && *m.Transcript != "" {
			transcribed++
			totalChars += len(*m.Transcript)
		}
		if m.CreatedAt.After(cutoff) {
			stats.RecentMeetings++
		}
	}
	if transcribed > 0 {
		stats.AverageTranscriptLength = totalChars / transcribed
	}

	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	meetings, err := a.store.ListMeetings(userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list meetings: %v", err))
		return
	}
	if meetings == nil {
		meetings = []storage.Meeting{}
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (a *api) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	meeting, err := a.store.GetMeeting(r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSONError(w, http.StatusNotFound, "meeting not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get meeting: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

func (a *api) handleRenameMeeting(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeJSONError(w, http.StatusBadRequest, "title must not be empty")
		return
	}

	err := a.store.UpdateMeetingTitle(r.PathValue("id"), userID, title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSONError(w, http.StatusNotFound, "meeting not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("rename meeting: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	meetingID := r.PathValue("id")
	if err := a.store.DeleteMeeting(meetingID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSONError(w, http.StatusNotFound, "meeting not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("delete meeting: %v", err))
		return
	}

	if a.hub != nil {
		a.hub.BroadcastMeetingDeleted(meetingID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleEmailMeeting(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	if a.mailer == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "email delivery is not configured")
		return
	}

	meeting, err := a.store.GetMeeting(r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSONError(w, http.StatusNotFound, "meeting not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get meeting: %v", err))
		return
	}

	user, err := a.store.GetUser(userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get user: %v", err))
		return
	}

	if err := a.mailer.SendMeeting(r.Context(), user.Email, meeting); err != nil {
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("send email: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRecorderStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	if err := a.recorder.Start(userID); err != nil {
		writeJSONError(w, recorderStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) recorderOp(op func(*RecorderControl) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireUser(w, r); !ok {
			return
		}

		if err := op(a.recorder); err != nil {
			writeJSONError(w, recorderStatus(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) handleRecorderStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireUser(w, r); !ok {
		return
	}

	state, elapsed, available := a.recorder.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":           state,
		"elapsed_seconds": elapsed,
		"available":       available,
	})
}

func recorderStatus(err error) int {
	switch {
	case errors.Is(err, recorder.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrDeviceUnavailable), errors.Is(err, ErrRecorderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requireUser resolves the caller's login session from the bearer token or
// session cookie. It writes a 401 response when no valid session exists.
func (a *api) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}

	userID, err := a.auth.Resolve(token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
		return "", false
	}
	return userID, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
