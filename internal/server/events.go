package server

import (
	"time"

	"github.com/MartiGrau/AutoMeet/internal/storage"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type RecorderStatusEvent struct {
	Event
	State          string `json:"state"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

type ProcessingStartedEvent struct {
	Event
	OwnerID string `json:"owner_id"`
}

type MeetingProcessedEvent struct {
	Event
	Meeting       storage.Meeting `json:"meeting"`
	SummaryFailed bool            `json:"summary_failed"`
}

type ProcessingFailedEvent struct {
	Event
	OwnerID string `json:"owner_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type MeetingDeletedEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
