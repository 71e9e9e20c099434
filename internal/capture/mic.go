package capture

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"

	"github.com/MartiGrau/AutoMeet/internal/recorder"
)

const defaultSampleRate = 16000

// Initialize sets up the portaudio runtime. Call once at process start.
func Initialize() {
	microphone.Initialize()
}

// Teardown releases the portaudio runtime. Call once at process exit.
func Teardown() {
	microphone.Teardown()
}

// Microphone is a recorder.Device backed by the local microphone. Each Open
// acquires the device exclusively until the returned capture is closed.
type Microphone struct {
	sampleRate int
}

func NewMicrophone(sampleRate int) *Microphone {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &Microphone{sampleRate: sampleRate}
}

func (m *Microphone) SampleRate() int {
	return m.sampleRate
}

func (m *Microphone) Open() (recorder.Capture, error) {
	mic, err := microphone.New(microphone.AudioConfig{
		InputChannels: 1,
		SamplingRate:  float32(m.sampleRate),
	})
	if err != nil {
		return nil, fmt.Errorf("open microphone at %d Hz: %w", m.sampleRate, err)
	}

	if err := mic.Start(); err != nil {
		_ = mic.Stop()
		return nil, fmt.Errorf("start microphone at %d Hz: %w", m.sampleRate, err)
	}

	s := &micSession{mic: mic, sampleRate: m.sampleRate}
	go func() {
		if err := mic.Stream(s); err != nil && !s.isClosed() {
			log.Printf("warning: mic stream ended: %v", err)
		}
	}()

	return s, nil
}

type micSession struct {
	mic        *microphone.Microphone
	sampleRate int

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// Write receives raw PCM from the microphone stream goroutine.
func (s *micSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return len(p), nil
	}
	return s.buf.Write(p)
}

func (s *micSession) Pause() {
	s.mic.Mute()
}

func (s *micSession) Resume() {
	s.mic.Unmute()
}

// Close stops the microphone and finalizes the buffered PCM as WAV. The
// device is released regardless of the outcome.
func (s *micSession) Close() ([]byte, string, error) {
	stopErr := s.mic.Stop()

	s.mu.Lock()
	s.closed = true
	pcm := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	s.mu.Unlock()

	if stopErr != nil {
		return nil, "", fmt.Errorf("stop microphone: %w", stopErr)
	}
	if len(pcm) == 0 {
		return nil, "", errors.New("no audio captured")
	}

	return EncodeWAV(pcm, s.sampleRate), "audio/wav", nil
}

func (s *micSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
