package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MartiGrau/AutoMeet/internal/auth"
	"github.com/MartiGrau/AutoMeet/internal/pipeline"
	"github.com/MartiGrau/AutoMeet/internal/storage"
)

type storeStub struct {
	users    map[string]storage.User
	configs  map[string]storage.IntegrationConfig
	meetings map[string]storage.Meeting

	renamed map[string]string
	deleted []string
	prefs   []string
}

func newStoreStub() *storeStub {
	return &storeStub{
		users:    map[string]storage.User{},
		configs:  map[string]storage.IntegrationConfig{},
		meetings: map[string]storage.Meeting{},
		renamed:  map[string]string{},
	}
}

func (s *storeStub) GetUser(id string) (storage.User, error) {
	u, ok := s.users[id]
	if !ok {
		return storage.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *storeStub) UpdateUserPreferences(userID string, retentionDays int, defaultTemplate string) error {
	s.prefs = append(s.prefs, userID)
	u := s.users[userID]
	u.RetentionDays = retentionDays
	u.DefaultTemplate = defaultTemplate
	s.users[userID] = u
	return nil
}

func (s *storeStub) UpsertIntegrationConfig(cfg storage.IntegrationConfig) error {
	if cfg.Provider != storage.ProviderOpenAI && cfg.Provider != storage.ProviderGemini {
		return errors.New("unsupported provider")
	}
	s.configs[cfg.UserID] = cfg
	return nil
}

func (s *storeStub) GetIntegrationConfig(userID string) (storage.IntegrationConfig, error) {
	cfg, ok := s.configs[userID]
	if !ok {
		return storage.IntegrationConfig{}, sql.ErrNoRows
	}
	return cfg, nil
}

func (s *storeStub) GetMeeting(id, ownerID string) (storage.Meeting, error) {
	m, ok := s.meetings[id]
	if !ok || m.OwnerID != ownerID {
		return storage.Meeting{}, sql.ErrNoRows
	}
	return m, nil
}

func (s *storeStub) ListMeetings(ownerID string) ([]storage.Meeting, error) {
	var out []storage.Meeting
	for _, m := range s.meetings {
		if m.OwnerID == ownerID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *storeStub) UpdateMeetingTitle(id, ownerID, title string) error {
	m, ok := s.meetings[id]
	if !ok || m.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	s.renamed[id] = title
	return nil
}

func (s *storeStub) DeleteMeeting(id, ownerID string) error {
	m, ok := s.meetings[id]
	if !ok || m.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	delete(s.meetings, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type authStub struct {
	tokens map[string]string
}

func (a authStub) Signup(email, password string) (storage.User, error) {
	if password == "" {
		return storage.User{}, auth.ErrInvalidCredentials
	}
	if email == "taken@example.com" {
		return storage.User{}, auth.ErrEmailTaken
	}
	return storage.User{ID: "new-user", Email: email}, nil
}

func (a authStub) Login(email, password string) (string, error) {
	if password != "secret" {
		return "", auth.ErrInvalidCredentials
	}
	return "tok-login", nil
}

func (a authStub) Logout(token string) error { return nil }

func (a authStub) Resolve(token string) (string, error) {
	if userID, ok := a.tokens[token]; ok {
		return userID, nil
	}
	return "", auth.ErrInvalidCredentials
}

type processorStub struct {
	result pipeline.Result
	err    error
	reqs   []pipeline.Request
}

func (p *processorStub) Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	p.reqs = append(p.reqs, req)
	return p.result, p.err
}

type mailerStub struct {
	sent []string
	err  error
}

func (m *mailerStub) SendMeeting(ctx context.Context, toEmail string, meeting storage.Meeting) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, toEmail)
	return nil
}

func testStaticFS(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write index.html failed: %v", err)
	}
	return os.DirFS(dir)
}

type fixture struct {
	store     *storeStub
	processor *processorStub
	mailer    *mailerStub
	handler   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newStoreStub()
	store.users["user-1"] = storage.User{ID: "user-1", Email: "user@example.com", RetentionDays: 30, DefaultTemplate: "Summarize into Key Decisions, Action Items, Open Questions"}

	processor := &processorStub{}
	mailer := &mailerStub{}
	hub := NewHub()

	h, err := Handler(testStaticFS(t), hub, Deps{
		Store:     store,
		Auth:      authStub{tokens: map[string]string{"tok-1": "user-1"}},
		Processor: processor,
		Recorder:  NewRecorderControl(processor, hub),
		Mailer:    mailer,
	})
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	return &fixture{store: store, processor: processor, mailer: mailer, handler: h}
}

func (f *fixture) do(t *testing.T, method, target, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestSignup(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/auth/signup", "", []byte(`{"email":"a@example.com","password":"pw123456"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/api/auth/signup", "", []byte(`{"email":"taken@example.com","password":"pw123456"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate email status = %d", rr.Code)
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/auth/login", "", []byte(`{"email":"user@example.com","password":"secret"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	cookies := rr.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == sessionCookie && c.Value == "tok-login" && c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Errorf("session cookie not set: %v", cookies)
	}

	rr = f.do(t, http.MethodPost, "/api/auth/login", "", []byte(`{"email":"user@example.com","password":"wrong"}`))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", rr.Code)
	}
}

func TestRequireUser(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/meetings", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/api/meetings", "tok-bogus", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rr.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/settings", "tok-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got settingsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.APIKeySet || got.Provider != "" {
		t.Errorf("expected unconfigured settings, got %+v", got)
	}
	if got.RetentionDays != 30 {
		t.Errorf("retention = %d", got.RetentionDays)
	}

	rr = f.do(t, http.MethodPost, "/api/settings", "tok-1", []byte(`{"provider":"gemini","api_key":"g-key","retention_days":7}`))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("update status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/api/settings", "tok-1", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Provider != "gemini" || !got.APIKeySet {
		t.Errorf("provider not saved: %+v", got)
	}
	if got.RetentionDays != 7 {
		t.Errorf("retention not saved: %+v", got)
	}
	if strings.Contains(rr.Body.String(), "g-key") {
		t.Errorf("api key leaked in settings response: %s", rr.Body.String())
	}
}

func TestSettingsRejectsPartialProvider(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/settings", "tok-1", []byte(`{"provider":"openai"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func multipartAudio(t *testing.T, field, filename, contentType string, data []byte) (body []byte, boundary string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + filename + `"`}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes(), mw.Boundary()
}

func (f *fixture) upload(t *testing.T, token string, body []byte, boundary string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/meetings", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestUploadMeeting(t *testing.T) {
	f := newFixture(t)
	transcript := "we decided things"
	f.processor.result = pipeline.Result{Meeting: storage.Meeting{ID: "m-1", OwnerID: "user-1", Transcript: &transcript}}

	body, boundary := multipartAudio(t, "audio", "rec.webm", "audio/webm", []byte("audio-bytes"))
	rr := f.upload(t, "tok-1", body, boundary)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	if len(f.processor.reqs) != 1 {
		t.Fatalf("processor called %d times", len(f.processor.reqs))
	}
	got := f.processor.reqs[0]
	if got.CallerID != "user-1" || got.MIMEType != "audio/webm" || string(got.Audio) != "audio-bytes" {
		t.Errorf("unexpected request: %+v", got)
	}

	var resp uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.MeetingID != "m-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Meeting.ID != "m-1" || resp.SummaryFailed {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(rr.Body.String(), `"meetingId":"m-1"`) {
		t.Errorf("body missing meetingId key: %s", rr.Body.String())
	}
}

func TestUploadMeetingMissingFile(t *testing.T) {
	f := newFixture(t)

	body, boundary := multipartAudio(t, "wrong_field", "rec.webm", "audio/webm", []byte("x"))
	rr := f.upload(t, "tok-1", body, boundary)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(f.processor.reqs) != 0 {
		t.Errorf("processor called despite missing file")
	}
}

func TestUploadMeetingStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{pipeline.ErrUnauthorized, http.StatusUnauthorized},
		{pipeline.ErrConfigMissing, http.StatusBadRequest},
		{pipeline.ErrEmptyTranscript, http.StatusBadGateway},
		{pipeline.ErrTranscription, http.StatusBadGateway},
		{pipeline.ErrPersistence, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		f := newFixture(t)
		f.processor.err = tc.err

		body, boundary := multipartAudio(t, "audio", "rec.webm", "audio/webm", []byte("x"))
		rr := f.upload(t, "tok-1", body, boundary)
		if rr.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rr.Code, tc.want)
		}
	}
}

func TestMeetingLifecycle(t *testing.T) {
	f := newFixture(t)
	transcript := "transcript"
	f.store.meetings["m-1"] = storage.Meeting{ID: "m-1", OwnerID: "user-1", Title: "Meeting on March 14, 2025", Transcript: &transcript}
	f.store.meetings["m-2"] = storage.Meeting{ID: "m-2", OwnerID: "someone-else", Title: "Not yours"}

	rr := f.do(t, http.MethodGet, "/api/meetings", "tok-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list []storage.Meeting
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "m-1" {
		t.Errorf("list = %+v, want only the caller's meetings", list)
	}

	rr = f.do(t, http.MethodGet, "/api/meetings/m-2", "tok-1", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign meeting status = %d, want 404", rr.Code)
	}

	rr = f.do(t, http.MethodPatch, "/api/meetings/m-1", "tok-1", []byte(`{"title":"Quarterly sync"}`))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("rename status = %d", rr.Code)
	}
	if f.store.renamed["m-1"] != "Quarterly sync" {
		t.Errorf("rename not applied: %v", f.store.renamed)
	}

	rr = f.do(t, http.MethodPatch, "/api/meetings/m-1", "tok-1", []byte(`{"title":"  "}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank title status = %d", rr.Code)
	}

	rr = f.do(t, http.MethodDelete, "/api/meetings/m-1", "tok-1", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if len(f.store.deleted) != 1 || f.store.deleted[0] != "m-1" {
		t.Errorf("delete not applied: %v", f.store.deleted)
	}

	rr = f.do(t, http.MethodDelete, "/api/meetings/m-2", "tok-1", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, want 404", rr.Code)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	long := strings.Repeat("a", 100)
	short := strings.Repeat("b", 50)
	summary := "done"

	f.store.meetings["m-1"] = storage.Meeting{ID: "m-1", OwnerID: "user-1", Transcript: &long, Summary: &summary, CreatedAt: now}
	f.store.meetings["m-2"] = storage.Meeting{ID: "m-2", OwnerID: "user-1", Transcript: &short, CreatedAt: now.AddDate(0, 0, -30)}
	f.store.meetings["m-3"] = storage.Meeting{ID: "m-3", OwnerID: "someone-else", Transcript: &long, CreatedAt: now}

	rr := f.do(t, http.MethodGet, "/api/analytics", "tok-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var got analyticsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalMeetings != 2 {
		t.Errorf("total = %d, want only the caller's meetings", got.TotalMeetings)
	}
	if got.SummarizedMeetings != 1 {
		t.Errorf("summarized = %d", got.SummarizedMeetings)
	}
	if got.AverageTranscriptLength != 75 {
		t.Errorf("average transcript length = %d, want 75", got.AverageTranscriptLength)
	}
	if got.RecentMeetings != 1 {
		t.Errorf("recent = %d", got.RecentMeetings)
	}

	rr = f.do(t, http.MethodGet, "/api/analytics", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rr.Code)
	}
}

func TestEmailMeeting(t *testing.T) {
	f := newFixture(t)
	f.store.meetings["m-1"] = storage.Meeting{ID: "m-1", OwnerID: "user-1", Title: "T"}

	rr := f.do(t, http.MethodPost, "/api/meetings/m-1/email", "tok-1", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0] != "user@example.com" {
		t.Errorf("sent = %v", f.mailer.sent)
	}

	f.mailer.err = errors.New("sendgrid down")
	rr = f.do(t, http.MethodPost, "/api/meetings/m-1/email", "tok-1", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("mailer failure status = %d", rr.Code)
	}
}

func TestRecorderUnavailable(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/recorder/start", "tok-1", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with no device bound", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/api/recorder/status", "tok-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rr.Code)
	}
	var status struct {
		State     string `json:"state"`
		Available bool   `json:"available"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Available || status.State != "idle" {
		t.Errorf("status = %+v", status)
	}
}

func TestWSRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/ws", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/ws?token=tok-bogus", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rr.Code)
	}

	// valid session reaches the upgrader, which rejects a plain GET
	rr = f.do(t, http.MethodGet, "/ws", "tok-1", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-websocket request status = %d, want 400 from upgrader", rr.Code)
	}
}

func TestSPAFallback(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/meetings/some-client-route", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<html>ok</html>") {
		t.Errorf("expected index.html fallback, got %s", rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/index.html", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("/index.html status = %d, want the page, not a redirect", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<html>ok</html>") {
		t.Errorf("expected index.html body, got %s", rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/api/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown api route status = %d", rr.Code)
	}
}
