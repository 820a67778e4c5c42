package thermal

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
)

// Resolution is a known sensor grid size.
type Resolution struct {
	Width  int
	Height int
}

// knownResolutions maps exact cell counts reported by supported sensors to their grids.
var knownResolutions = map[int]Resolution{
	160 * 120: {Width: 160, Height: 120},
	256 * 192: {Width: 256, Height: 192},
}

// RenderedFrame is a displayable thermal image plus its legend.
type RenderedFrame struct {
	Width   int
	Height  int
	Pixels  []byte // RGBA, row-major, Width*Height*4 bytes
	MinTemp float64
	MaxTemp float64
	// ThresholdPosition is the fractional position of the warning threshold
	// between MinTemp and MaxTemp, or nil when the threshold is out of range.
	ThresholdPosition *float64
}

// InferDimensions returns the grid for n cells: a known sensor resolution when one
// matches exactly, otherwise the smallest near-square grid holding n cells.
func InferDimensions(n int) (width, height int) {
	if n <= 0 {
		return 0, 0
	}
	if res, ok := knownResolutions[n]; ok {
		return res.Width, res.Height
	}
	width = int(math.Ceil(math.Sqrt(float64(n))))
	height = (n + width - 1) / width
	return width, height
}

// Render normalizes matrix over its observed range and maps it through the palette.
// It reports false when there is nothing to draw.
//
// At most payloadLen cells are read. Cells beyond the inferred grid are dropped and
// grid pixels without a cell stay zero (transparent black). Non-finite cells do not
// take part in the range and are drawn at the bottom of the palette. A matrix with
// no finite cell renders flat with a 0..0 range.
func Render(matrix []float32, payloadLen int, threshold float64) (RenderedFrame, bool) {
	if matrix == nil || payloadLen <= 0 {
		return RenderedFrame{}, false
	}

	cells := min(payloadLen, len(matrix))
	width, height := InferDimensions(payloadLen)
	cells = min(cells, width*height)
	if cells == 0 {
		return RenderedFrame{}, false
	}

	lo, hi, ok := scanRange(matrix[:cells])
	if !ok {
		lo, hi = 0, 0
	}

	span := hi - lo
	if span == 0 {
		span = 1
	}

	pixels := make([]byte, width*height*4)
	for i, value := range matrix[:cells] {
		v := float64(value)
		norm := 0.0
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			norm = (v - lo) / span
		}
		r, g, b := ColorFor(norm)
		idx := i * 4
		pixels[idx] = r
		pixels[idx+1] = g
		pixels[idx+2] = b
		pixels[idx+3] = 255
	}

	out := RenderedFrame{
		Width:   width,
		Height:  height,
		Pixels:  pixels,
		MinTemp: lo,
		MaxTemp: hi,
	}
	if threshold >= lo && threshold <= hi {
		pos := (threshold - lo) / span
		out.ThresholdPosition = &pos
	}
	return out, true
}

func scanRange(values []float32) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, raw := range values {
		v := float64(raw)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		ok = true
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

// Image exposes the frame pixels as an image without copying.
func (f RenderedFrame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pixels,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// EncodePNG serialises the frame as a PNG image.
func EncodePNG(f RenderedFrame) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) != f.Width*f.Height*4 {
		return nil, fmt.Errorf("thermal: invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pixels))
	}
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, f.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
