package grid

import "math"

// NormalizeDegrees wraps d into [0, 360). NaN passes through.
func NormalizeDegrees(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return math.NaN()
	}
	m := math.Mod(d, 360)
	if m < 0 {
		m += 360
	}
	if m >= 360 {
		m = 0
	}
	return m
}

// EncodeDegrees returns the sine/cosine pair for an angle in degrees.
func EncodeDegrees(deg float64) (float64, float64) {
	rad := deg * math.Pi / 180
	return math.Sin(rad), math.Cos(rad)
}

// DecodeDegrees maps a sine/cosine pair back to degrees in [0, 360).
func DecodeDegrees(sin, cos float64) float64 {
	if math.IsNaN(sin) || math.IsNaN(cos) {
		return math.NaN()
	}
	return NormalizeDegrees(math.Atan2(sin, cos) * 180 / math.Pi)
}

// WrappedError is the absolute circular difference between two headings,
// always within [0, 180].
func WrappedError(pred, truth float64) float64 {
	if math.IsNaN(pred) || math.IsNaN(truth) {
		return math.NaN()
	}
	d := pred - truth + 180
	m := math.Mod(d, 360)
	if m < 0 {
		m += 360
	}
	return math.Abs(m - 180)
}

// EncodeGrid splits a direction grid into sine and cosine grids.
func EncodeGrid(deg Grid) (Grid, Grid) {
	sin, cos := New(deg.Rows, deg.Cols), New(deg.Rows, deg.Cols)
	for i, v := range deg.Values {
		if math.IsNaN(v) {
			sin.Values[i], cos.Values[i] = math.NaN(), math.NaN()
			continue
		}
		sin.Values[i], cos.Values[i] = EncodeDegrees(v)
	}
	return sin, cos
}

// DecodeGrid rebuilds a direction grid from sine and cosine grids.
func DecodeGrid(sin, cos Grid) Grid {
	out := New(sin.Rows, sin.Cols)
	for i := range out.Values {
		out.Values[i] = DecodeDegrees(sin.Values[i], cos.Values[i])
	}
	return out
}
