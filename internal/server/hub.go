package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/MartiGrau/AutoMeet/internal/storage"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastRecorderStatus(state string, elapsedSeconds int) {
	h.broadcastEvent(RecorderStatusEvent{
		Event:          newEvent("recorder_status", time.Now().UTC()),
		State:          state,
		ElapsedSeconds: elapsedSeconds,
	})
}

func (h *Hub) BroadcastProcessingStarted(ownerID string) {
	h.broadcastEvent(ProcessingStartedEvent{
		Event:   newEvent("processing_started", time.Now().UTC()),
		OwnerID: ownerID,
	})
}

func (h *Hub) BroadcastMeetingProcessed(meeting storage.Meeting, summaryFailed bool) {
	h.broadcastEvent(MeetingProcessedEvent{
		Event:         newEvent("meeting_processed", time.Now().UTC()),
		Meeting:       meeting,
		SummaryFailed: summaryFailed,
	})
}

func (h *Hub) BroadcastProcessingFailed(ownerID, stage, message string) {
	h.broadcastEvent(ProcessingFailedEvent{
		Event:   newEvent("processing_failed", time.Now().UTC()),
		OwnerID: ownerID,
		Stage:   stage,
		Message: message,
	})
}

func (h *Hub) BroadcastMeetingDeleted(meetingID string) {
	h.broadcastEvent(MeetingDeletedEvent{
		Event:     newEvent("meeting_deleted", time.Now().UTC()),
		MeetingID: meetingID,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
