package features

import (
	"errors"
	"fmt"
)

// Class separates plain scalar variables from speed+direction pairs.
type Class int

const (
	Scalar Class = iota
	Angular
)

func (c Class) String() string {
	switch c {
	case Scalar:
		return "scalar"
	case Angular:
		return "angular"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Outputs is the number of target columns a model predicts for the class.
func (c Class) Outputs() int {
	if c == Angular {
		return 3
	}
	return 1
}

// Channels is the number of grids that make up one history frame.
func (c Class) Channels() int {
	return c.Outputs()
}

type Kind int

const (
	KindLag Kind = iota
	KindRollMean
	KindRollStd
	KindRollMin
	KindRollMax
	KindDOYSin
	KindDOYCos
	KindLat
	KindLon
)

// Channel indexes a grid within a frame. Scalar frames only use ChannelValue;
// angular frames hold speed, sine and cosine in that order.
type Channel int

const (
	ChannelValue Channel = 0
	ChannelSpeed Channel = 0
	ChannelSin   Channel = 1
	ChannelCos   Channel = 2
)

// Windows are the rolling-window widths considered; a width is used only when
// the lag depth covers it.
var Windows = []int{3, 7, 14, 30}

// Feature is one column of a feature table.
type Feature struct {
	Kind    Kind
	Channel Channel
	Lag     int
	Window  int
	class   Class
}

func (f Feature) Name() string {
	switch f.Kind {
	case KindLag:
		if f.class == Angular {
			return fmt.Sprintf("lag_%s_%d", channelName(f.Channel), f.Lag)
		}
		return fmt.Sprintf("lag_%d", f.Lag)
	case KindRollMean, KindRollStd, KindRollMin, KindRollMax:
		stat := [...]string{"mean", "std", "min", "max"}[f.Kind-KindRollMean]
		if f.class == Angular {
			return fmt.Sprintf("roll_%s_%s_%d", stat, channelName(f.Channel), f.Window)
		}
		return fmt.Sprintf("roll_%s_%d", stat, f.Window)
	case KindDOYSin:
		return "doy_sin"
	case KindDOYCos:
		return "doy_cos"
	case KindLat:
		return "lat"
	case KindLon:
		return "lon"
	default:
		return fmt.Sprintf("feature(%d)", int(f.Kind))
	}
}

func channelName(c Channel) string {
	switch c {
	case ChannelSin:
		return "sin"
	case ChannelCos:
		return "cos"
	default:
		return "speed"
	}
}

// Schema is the ordered candidate feature set for one variable class and lag
// depth. Training tables and forecast rows are both built from it.
type Schema struct {
	Class    Class
	MaxLag   int
	Features []Feature
	index    map[string]int
}

var ErrInvalidLag = errors.New("max lag must be > 0")

func NewSchema(class Class, maxLag int) (Schema, error) {
	if maxLag <= 0 {
		return Schema{}, ErrInvalidLag
	}
	var feats []Feature
	add := func(f Feature) {
		f.class = class
		feats = append(feats, f)
	}

	for lag := 1; lag <= maxLag; lag++ {
		if class == Angular {
			add(Feature{Kind: KindLag, Channel: ChannelSpeed, Lag: lag})
			add(Feature{Kind: KindLag, Channel: ChannelSin, Lag: lag})
			add(Feature{Kind: KindLag, Channel: ChannelCos, Lag: lag})
			continue
		}
		add(Feature{Kind: KindLag, Channel: ChannelValue, Lag: lag})
	}
	for _, w := range Windows {
		if maxLag < w {
			continue
		}
		if class == Angular {
			add(Feature{Kind: KindRollMean, Channel: ChannelSpeed, Window: w})
			add(Feature{Kind: KindRollStd, Channel: ChannelSpeed, Window: w})
			add(Feature{Kind: KindRollMin, Channel: ChannelSpeed, Window: w})
			add(Feature{Kind: KindRollMax, Channel: ChannelSpeed, Window: w})
			add(Feature{Kind: KindRollMean, Channel: ChannelSin, Window: w})
			add(Feature{Kind: KindRollMean, Channel: ChannelCos, Window: w})
			continue
		}
		add(Feature{Kind: KindRollMean, Window: w})
		add(Feature{Kind: KindRollStd, Window: w})
		add(Feature{Kind: KindRollMin, Window: w})
		add(Feature{Kind: KindRollMax, Window: w})
	}
	add(Feature{Kind: KindDOYSin})
	add(Feature{Kind: KindDOYCos})
	add(Feature{Kind: KindLat})
	add(Feature{Kind: KindLon})

	s := Schema{Class: class, MaxLag: maxLag, Features: feats, index: make(map[string]int, len(feats))}
	for i, f := range feats {
		s.index[f.Name()] = i
	}
	return s, nil
}

func (s Schema) Len() int {
	return len(s.Features)
}

func (s Schema) Names() []string {
	out := make([]string, len(s.Features))
	for i, f := range s.Features {
		out[i] = f.Name()
	}
	return out
}

func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Columns resolves feature names to column indices.
func (s Schema) Columns(names []string) ([]int, error) {
	out := make([]int, 0, len(names))
	for _, name := range names {
		i, ok := s.index[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q for %s schema", name, s.Class)
		}
		out = append(out, i)
	}
	return out, nil
}

// MaskColumns returns the column indices whose mask bit is set.
func MaskColumns(mask []bool) []int {
	out := make([]int, 0, len(mask))
	for i, on := range mask {
		if on {
			out = append(out, i)
		}
	}
	return out
}

// MaskNames returns the feature names selected by mask.
func (s Schema) MaskNames(mask []bool) []string {
	cols := MaskColumns(mask)
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c < len(s.Features) {
			out = append(out, s.Features[c].Name())
		}
	}
	return out
}
