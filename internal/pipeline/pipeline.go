// Package pipeline runs captured meeting audio through transcription and
// summarization and persists the resulting meeting record.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/MartiGrau/AutoMeet/internal/storage"
	"github.com/MartiGrau/AutoMeet/internal/summarize"
)

// Stage failures the caller can classify with errors.Is.
var (
	ErrUnauthorized    = errors.New("caller is not a known user")
	ErrConfigMissing   = errors.New("no AI provider configured for user")
	ErrNoAudio         = errors.New("no audio data provided")
	ErrEmptyTranscript = errors.New("transcription produced no text")
	ErrTranscription   = errors.New("transcription failed")
	ErrSummarization   = errors.New("summarization failed")
	ErrPersistence     = errors.New("failed to save meeting")
)

const (
	defaultTranscribeTimeout = 120 * time.Second
	defaultSummarizeTimeout  = 60 * time.Second
)

// Store is the subset of the storage layer the pipeline needs.
type Store interface {
	GetUser(id string) (storage.User, error)
	GetIntegrationConfig(userID string) (storage.IntegrationConfig, error)
	InsertMeeting(m storage.Meeting) error
}

// Transcriber converts audio bytes into transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, apiKey string, audio []byte, mimeType string) (string, error)
}

// SummarizerFactory builds a summarizer for the user's configured provider.
type SummarizerFactory func(provider, apiKey string) (summarize.Summarizer, error)

// EventSink receives progress notifications for connected clients.
type EventSink interface {
	BroadcastProcessingStarted(ownerID string)
	BroadcastMeetingProcessed(meeting storage.Meeting, summaryFailed bool)
	BroadcastProcessingFailed(ownerID, stage, message string)
}

// Request is one recording handed to the pipeline.
type Request struct {
	CallerID string
	Audio    []byte
	MIMEType string
}

// Result reports the stored meeting. SummaryErr is non-nil when the meeting
// was persisted with its transcript only because summarization failed.
type Result struct {
	Meeting    storage.Meeting
	SummaryErr error
}

type Pipeline struct {
	store             Store
	transcriber       Transcriber
	newSummarizer     SummarizerFactory
	events            EventSink
	transcribeTimeout time.Duration
	summarizeTimeout  time.Duration

	newID func() string
	now   func() time.Time
}

func New(store Store, transcriber Transcriber, factory SummarizerFactory, events EventSink, transcribeTimeout, summarizeTimeout time.Duration) *Pipeline {
	if transcribeTimeout <= 0 {
		transcribeTimeout = defaultTranscribeTimeout
	}
	if summarizeTimeout <= 0 {
		summarizeTimeout = defaultSummarizeTimeout
	}

	return &Pipeline{
		store:             store,
		transcriber:       transcriber,
		newSummarizer:     factory,
		events:            events,
		transcribeTimeout: transcribeTimeout,
		summarizeTimeout:  summarizeTimeout,
		newID:             uuid.NewString,
		now:               time.Now,
	}
}

// Process runs the full ingestion flow for one recording. A summarization
// failure does not fail the run: the meeting is stored with its transcript
// and Result.SummaryErr reports what went wrong.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, ErrNoAudio
	}

	user, err := p.store.GetUser(req.CallerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, ErrUnauthorized
		}
		return Result{}, fmt.Errorf("look up user: %w", err)
	}

	cfg, err := p.store.GetIntegrationConfig(user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, ErrConfigMissing
		}
		return Result{}, fmt.Errorf("look up integration config: %w", err)
	}
	if cfg.APIKey == "" {
		return Result{}, ErrConfigMissing
	}

	if p.events != nil {
		p.events.BroadcastProcessingStarted(user.ID)
	}

	transcript, err := p.transcribe(ctx, cfg.APIKey, req.Audio, req.MIMEType)
	if err != nil {
		p.reportFailure(user.ID, "transcription", err)
		return Result{}, err
	}

	summary, summaryErr := p.summarizeTranscript(ctx, cfg, transcript)
	if summaryErr != nil {
		log.Printf("warning: %v (storing transcript without summary)", summaryErr)
		p.reportFailure(user.ID, "summarization", summaryErr)
	}

	now := p.now()
	meeting := storage.Meeting{
		ID:         p.newID(),
		OwnerID:    user.ID,
		Title:      "Meeting on " + now.Format("January 2, 2006"),
		Transcript: &transcript,
		CreatedAt:  now,
	}
	if summaryErr == nil {
		meeting.Summary = &summary
	}
	if user.RetentionDays > 0 {
		expires := now.Add(time.Duration(user.RetentionDays) * 24 * time.Hour)
		meeting.ExpiresAt = &expires
	}

	if err := p.store.InsertMeeting(meeting); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrPersistence, err)
		p.reportFailure(user.ID, "persistence", wrapped)
		return Result{}, wrapped
	}

	if p.events != nil {
		p.events.BroadcastMeetingProcessed(meeting, summaryErr != nil)
	}

	return Result{Meeting: meeting, SummaryErr: summaryErr}, nil
}

func (p *Pipeline) transcribe(ctx context.Context, apiKey string, audio []byte, mimeType string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, p.transcribeTimeout)
	defer cancel()

	transcript, err := p.transcriber.Transcribe(tctx, apiKey, audio, mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	if transcript == "" {
		return "", ErrEmptyTranscript
	}
	return transcript, nil
}

func (p *Pipeline) summarizeTranscript(ctx context.Context, cfg storage.IntegrationConfig, transcript string) (string, error) {
	summarizer, err := p.newSummarizer(cfg.Provider, cfg.APIKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarization, err)
	}

	sctx, cancel := context.WithTimeout(ctx, p.summarizeTimeout)
	defer cancel()

	summary, err := summarizer.Summarize(sctx, transcript)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarization, err)
	}
	return summary, nil
}

func (p *Pipeline) reportFailure(ownerID, stage string, err error) {
	if p.events == nil {
		return
	}
	p.events.BroadcastProcessingFailed(ownerID, stage, err.Error())
}
