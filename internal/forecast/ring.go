package forecast

import (
	"errors"
	"fmt"

	"marecast/internal/features"
)

var ErrShortHistory = errors.New("history is shorter than the lag depth")

// Ring is a fixed-capacity history of frames. Push overwrites the oldest
// frame, so the length never changes once the ring is seeded.
type Ring struct {
	frames []features.Frame
	head   int
}

// NewRing seeds a ring with the last capacity frames of history.
func NewRing(capacity int, history []features.Frame) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be > 0, got %d", capacity)
	}
	if len(history) < capacity {
		return nil, fmt.Errorf("%w: have %d frames, need %d", ErrShortHistory, len(history), capacity)
	}
	r := &Ring{frames: make([]features.Frame, capacity)}
	for i, f := range history[len(history)-capacity:] {
		r.frames[i] = f.Clone()
	}
	return r, nil
}

func (r *Ring) Len() int {
	return len(r.frames)
}

func (r *Ring) Push(f features.Frame) {
	r.frames[r.head] = f
	r.head = (r.head + 1) % len(r.frames)
}

// Frames returns the history ordered oldest to newest.
func (r *Ring) Frames() []features.Frame {
	out := make([]features.Frame, 0, len(r.frames))
	out = append(out, r.frames[r.head:]...)
	return append(out, r.frames[:r.head]...)
}
