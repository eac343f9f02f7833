package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoFrame signals that no new frame has arrived since the last tick.
// The loop skips the tick quietly.
var ErrNoFrame = errors.New("no frame available")

// IngestSource adapts pushed frames to the loop's pull model. A platform
// grabber posts frames over HTTP; the loop consumes the most recent one on
// its own schedule. It doubles as the idle signal: the grabber reports the
// user's idle time alongside each frame.
type IngestSource struct {
	mu       sync.Mutex
	frame    *Frame
	idleFor  time.Duration
	lastPush time.Time
}

func NewIngestSource() *IngestSource {
	return &IngestSource{}
}

// Push hands a new frame to the source, replacing any unconsumed one.
func (s *IngestSource) Push(frame *Frame, idleFor time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	s.idleFor = idleFor
	s.lastPush = time.Now()
}

// Capture returns the pending frame, or ErrNoFrame when the grabber has not
// pushed since the last consume.
func (s *IngestSource) Capture(_ context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	f := s.frame
	s.frame = nil
	return f, nil
}

// IdleDuration reports the grabber's last idle reading, extended by the time
// since it was reported. A grabber that stops pushing reads as idle.
func (s *IngestSource) IdleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPush.IsZero() {
		return 0
	}
	return s.idleFor + time.Since(s.lastPush)
}
