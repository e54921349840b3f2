package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"marecast/internal/grid"
	"marecast/internal/model"
)

// MissingValue replaces NaN cells in packed grids.
const MissingValue = -9999.0

type VariableMeta struct {
	Name       string `json:"name"`
	Date       string `json:"date"`
	Shape      []int  `json:"shape"`
	DType      string `json:"dtype"`
	ByteLength int    `json:"byte_length"`
}

type Metadata struct {
	Lats      []float64      `json:"lats"`
	Lons      []float64      `json:"lons"`
	Variables []VariableMeta `json:"variables"`
}

// PackForecast encodes a forecast in the hybrid layout: a 4-byte big-endian
// metadata length, the metadata JSON, then each grid as little-endian
// float64 values in metadata order. A non-nil box crops every grid.
func PackForecast(record model.ForecastRecord, box *grid.BBox) ([]byte, error) {
	lats, lons := record.Lats, record.Lons
	crop := func(g grid.Grid) grid.Grid { return g }
	if box != nil {
		w, err := box.Select(lats, lons)
		if err != nil {
			return nil, err
		}
		lats = lats[w.RowStart:w.RowEnd]
		lons = lons[w.ColStart:w.ColEnd]
		crop = w.Crop
	}

	meta := Metadata{Lats: lats, Lons: lons, Variables: []VariableMeta{}}
	var body bytes.Buffer
	for _, step := range record.Steps {
		for _, name := range stepVariables(record.Variables, step) {
			g := crop(step.Grids[name])
			start := body.Len()
			for _, v := range g.Values {
				if math.IsNaN(v) {
					v = MissingValue
				}
				if err := binary.Write(&body, binary.LittleEndian, v); err != nil {
					return nil, err
				}
			}
			meta.Variables = append(meta.Variables, VariableMeta{
				Name:       name,
				Date:       step.Date,
				Shape:      []int{g.Rows, g.Cols},
				DType:      "float64",
				ByteLength: body.Len() - start,
			})
		}
	}

	header, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	out := make([]byte, 4, 4+len(header)+body.Len())
	binary.BigEndian.PutUint32(out, uint32(len(header)))
	out = append(out, header...)
	return append(out, body.Bytes()...), nil
}

// UnpackForecast decodes the hybrid layout. Missing cells come back as
// MissingValue.
func UnpackForecast(data []byte) (Metadata, []grid.Grid, error) {
	if len(data) < 4 {
		return Metadata{}, nil, errors.New("payload shorter than header")
	}
	size := int(binary.BigEndian.Uint32(data))
	if len(data) < 4+size {
		return Metadata{}, nil, errors.New("payload shorter than metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(data[4:4+size], &meta); err != nil {
		return Metadata{}, nil, fmt.Errorf("decode metadata: %w", err)
	}
	reader := bytes.NewReader(data[4+size:])
	grids := make([]grid.Grid, 0, len(meta.Variables))
	for _, v := range meta.Variables {
		if len(v.Shape) != 2 {
			return Metadata{}, nil, fmt.Errorf("variable %s has shape %v", v.Name, v.Shape)
		}
		g := grid.New(v.Shape[0], v.Shape[1])
		if err := binary.Read(reader, binary.LittleEndian, g.Values); err != nil {
			return Metadata{}, nil, fmt.Errorf("read %s %s: %w", v.Name, v.Date, err)
		}
		grids = append(grids, g)
	}
	return meta, grids, nil
}

// stepVariables lists the declared variables present in the step, falling
// back to the step's grids in name order.
func stepVariables(declared []string, step model.ForecastStep) []string {
	out := make([]string, 0, len(step.Grids))
	for _, name := range declared {
		if _, ok := step.Grids[name]; ok {
			out = append(out, name)
		}
	}
	if len(out) > 0 {
		return out
	}
	for name := range step.Grids {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
