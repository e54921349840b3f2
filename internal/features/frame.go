package features

import (
	"fmt"

	"marecast/internal/grid"
)

// Frame is one time step of a variable: a single grid for scalar variables or
// the (speed, sin, cos) triple for angular ones.
type Frame []grid.Grid

func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	for i := range f {
		out[i] = f[i].Clone()
	}
	return out
}

// ScalarFrames wraps each grid of a series as a one-channel frame.
func ScalarFrames(series grid.Series) []Frame {
	out := make([]Frame, len(series.Frames))
	for i, g := range series.Frames {
		out[i] = Frame{g}
	}
	return out
}

// AngularFrames pairs a speed series with a direction series (degrees),
// encoding directions as sine/cosine channels.
func AngularFrames(speed, direction grid.Series) ([]Frame, error) {
	if speed.Len() != direction.Len() {
		return nil, fmt.Errorf("speed %s has %d frames, direction %s has %d", speed.Name, speed.Len(), direction.Name, direction.Len())
	}
	out := make([]Frame, speed.Len())
	for i := range speed.Frames {
		if !speed.Frames[i].SameShape(direction.Frames[i]) {
			return nil, fmt.Errorf("frame %d: speed and direction grids differ in shape", i)
		}
		sin, cos := grid.EncodeGrid(direction.Frames[i])
		out[i] = Frame{speed.Frames[i], sin, cos}
	}
	return out, nil
}
