package recorder

import (
	"fmt"
	"log"
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Artifact is the finalized audio produced when a recording session stops.
type Artifact struct {
	Data     []byte
	MIMEType string
	Seconds  int
}

// Device acquires the underlying capture hardware. Open must fail rather
// than block when no device exists or permission is denied.
type Device interface {
	Open() (Capture, error)
}

// Capture is one held capture session. Close finalizes the audio and
// releases the device; it must release even when finalization fails.
type Capture interface {
	Pause()
	Resume()
	Close() (data []byte, mimeType string, err error)
}

// Consumer receives the session artifact, exactly once per session.
type Consumer func(Artifact)

// Controller mediates between a capture device and the rest of the
// application. All transitions are serialized; at most one capture session
// is held at a time.
type Controller struct {
	device   Device
	consumer Consumer

	mu          sync.Mutex
	state       State
	capture     Capture
	accumulated time.Duration
	resumedAt   time.Time
	artifact    Artifact

	now func() time.Time
}

func NewController(device Device, consumer Consumer) *Controller {
	return &Controller{
		device:   device,
		consumer: consumer,
		state:    StateIdle,
		now:      time.Now,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed reports whole seconds spent recording: advancing while the
// session records, frozen while paused or stopped, zero after reset.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.elapsedLocked().Seconds())
}

func (c *Controller) elapsedLocked() time.Duration {
	if c.state == StateRecording {
		return c.accumulated + c.now().Sub(c.resumedAt)
	}
	return c.accumulated
}

// Start acquires the device and begins a new session. It is valid only from
// Idle; a stopped session must be reset first.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return transitionError("start", c.state)
	}

	capture, err := c.device.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	c.capture = capture
	c.accumulated = 0
	c.resumedAt = c.now()
	c.artifact = Artifact{}
	c.state = StateRecording
	return nil
}

// Pause suspends timer advancement. The device keeps the session open.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return transitionError("pause", c.state)
	}

	c.accumulated += c.now().Sub(c.resumedAt)
	c.capture.Pause()
	c.state = StatePaused
	return nil
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return transitionError("resume", c.state)
	}

	c.resumedAt = c.now()
	c.capture.Resume()
	c.state = StateRecording
	return nil
}

// Stop finalizes the artifact, releases the device, and emits the artifact
// to the consumer exactly once. The device is released even when
// finalization fails or the consumer panics; on failure the session still
// ends up Stopped with an empty artifact.
func (c *Controller) Stop() error {
	c.mu.Lock()

	if c.state != StateRecording && c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		return transitionError("stop", state)
	}

	if c.state == StateRecording {
		c.accumulated += c.now().Sub(c.resumedAt)
	}

	capture := c.capture
	c.capture = nil
	c.state = StateStopped

	data, mimeType, err := capture.Close()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("finalize capture: %w", err)
	}
	if len(data) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("capture produced no audio")
	}

	artifact := Artifact{
		Data:     data,
		MIMEType: mimeType,
		Seconds:  int(c.accumulated.Seconds()),
	}
	c.artifact = artifact
	consumer := c.consumer
	c.mu.Unlock()

	if consumer != nil {
		emit(consumer, artifact)
	}
	return nil
}

// Reset clears all session fields. It is the only way back to Idle after a
// session has stopped; a new Start is not accepted before it.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStopped {
		return transitionError("reset", c.state)
	}

	c.clearLocked()
	return nil
}

// Abort tears the session down from any state, releasing the device if it
// is held and discarding any captured audio. Used when the recording UI
// goes away or after a failure, so the device is never left open.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		_, _, _ = c.capture.Close()
		c.capture = nil
	}
	c.clearLocked()
}

// Artifact returns the artifact of the last normally completed session.
func (c *Controller) Artifact() Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

func (c *Controller) clearLocked() {
	c.state = StateIdle
	c.accumulated = 0
	c.resumedAt = time.Time{}
	c.artifact = Artifact{}
}

func emit(consumer Consumer, artifact Artifact) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("warning: artifact consumer panicked: %v", r)
		}
	}()
	consumer(artifact)
}

func transitionError(op string, state State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, state)
}
