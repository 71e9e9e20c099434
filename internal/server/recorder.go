package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/MartiGrau/AutoMeet/internal/pipeline"
	"github.com/MartiGrau/AutoMeet/internal/recorder"
)

// ErrRecorderUnavailable is returned when no capture device was bound at
// startup.
var ErrRecorderUnavailable = errors.New("no recording device available")

// Processor runs one recording through the ingestion pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// RecorderControl mediates access to the single shared capture device. It
// remembers which user started the active session so the finished artifact
// can be ingested on their behalf.
//
// Controller methods run outside rc.mu: Stop invokes Consume synchronously,
// and Consume needs the mutex to read the owner.
type RecorderControl struct {
	mu        sync.Mutex
	ctrl      *recorder.Controller
	owner     string
	processor Processor
	hub       *Hub
}

func NewRecorderControl(processor Processor, hub *Hub) *RecorderControl {
	return &RecorderControl{processor: processor, hub: hub}
}

// Bind attaches the session controller. Construct the controller with
// Consume as its artifact consumer before binding.
func (rc *RecorderControl) Bind(ctrl *recorder.Controller) {
	rc.mu.Lock()
	rc.ctrl = ctrl
	rc.mu.Unlock()
}

// Consume receives the finished artifact from the controller and hands it to
// the pipeline. Processing runs in the background so stopping a recording
// returns immediately.
func (rc *RecorderControl) Consume(artifact recorder.Artifact) {
	rc.mu.Lock()
	owner := rc.owner
	rc.mu.Unlock()

	if owner == "" {
		log.Printf("warning: discarding recording with no owner")
		return
	}

	go func() {
		_, err := rc.processor.Process(context.Background(), pipeline.Request{
			CallerID: owner,
			Audio:    artifact.Data,
			MIMEType: artifact.MIMEType,
		})
		if err != nil {
			log.Printf("recording ingestion failed: %v", err)
		}
	}()
}

func (rc *RecorderControl) controller() *recorder.Controller {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.ctrl
}

// Start begins a session on behalf of ownerID. The owner is recorded under
// the same lock Consume reads it with, and only once the controller has
// accepted the transition, so a rejected start can never change who an
// in-flight artifact is attributed to. Holding rc.mu across ctrl.Start is
// safe: unlike Stop, Start never invokes the consumer.
func (rc *RecorderControl) Start(ownerID string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.ctrl == nil {
		return ErrRecorderUnavailable
	}
	if err := rc.ctrl.Start(); err != nil {
		return err
	}
	rc.owner = ownerID

	if rc.hub != nil {
		rc.hub.BroadcastRecorderStatus(rc.ctrl.State().String(), rc.ctrl.Elapsed())
	}
	return nil
}

func (rc *RecorderControl) Pause() error  { return rc.transition((*recorder.Controller).Pause) }
func (rc *RecorderControl) Resume() error { return rc.transition((*recorder.Controller).Resume) }
func (rc *RecorderControl) Stop() error   { return rc.transition((*recorder.Controller).Stop) }
func (rc *RecorderControl) Reset() error  { return rc.transition((*recorder.Controller).Reset) }

func (rc *RecorderControl) transition(op func(*recorder.Controller) error) error {
	ctrl := rc.controller()
	if ctrl == nil {
		return ErrRecorderUnavailable
	}
	if err := op(ctrl); err != nil {
		return err
	}

	rc.notify(ctrl)
	return nil
}

// Status reports the controller state and elapsed recorded seconds.
func (rc *RecorderControl) Status() (state string, elapsedSeconds int, available bool) {
	ctrl := rc.controller()
	if ctrl == nil {
		return recorder.StateIdle.String(), 0, false
	}
	return ctrl.State().String(), ctrl.Elapsed(), true
}

func (rc *RecorderControl) notify(ctrl *recorder.Controller) {
	if rc.hub == nil {
		return
	}
	rc.hub.BroadcastRecorderStatus(ctrl.State().String(), ctrl.Elapsed())
}
