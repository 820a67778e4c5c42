// Package frame implements the binary wire format carried by the thermal stream.
package frame

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	// Magic marks the first byte of every telemetry frame.
	Magic byte = 0xAF
	// HeaderSize is the fixed header length preceding the matrix.
	HeaderSize = 22
	// CellSize is the encoded size of one matrix cell.
	CellSize = 4

	offsetUnitID     = 1
	offsetTimestamp  = 2
	offsetMaxTemp    = 10
	offsetAvgTemp    = 14
	offsetPayloadLen = 18
)

var (
	// ErrShortHeader reports a buffer that cannot hold the fixed header.
	ErrShortHeader = errors.New("frame: buffer shorter than header")
	// ErrBadMagic reports a buffer that does not start with Magic.
	ErrBadMagic = errors.New("frame: bad magic byte")
	// ErrTruncated reports a buffer that ends before the declared matrix does.
	ErrTruncated = errors.New("frame: truncated matrix")
)

// Sample is one decoded telemetry snapshot. Timestamp is carried as sent by the source.
type Sample struct {
	UnitID     uint8
	Timestamp  uint64
	MaxTemp    float32
	AvgTemp    float32
	PayloadLen uint32
	Matrix     []float32
}

// Decode parses a single self-contained frame. On error no sample is produced;
// the error only classifies why the buffer was rejected.
func Decode(buf []byte) (Sample, error) {
	if len(buf) < HeaderSize {
		return Sample{}, ErrShortHeader
	}
	if buf[0] != Magic {
		return Sample{}, ErrBadMagic
	}

	n := binary.LittleEndian.Uint32(buf[offsetPayloadLen:])
	if uint64(len(buf)) < HeaderSize+uint64(n)*CellSize {
		return Sample{}, ErrTruncated
	}

	matrix := make([]float32, n)
	body := buf[HeaderSize:]
	for i := range matrix {
		matrix[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*CellSize:]))
	}

	return Sample{
		UnitID:     buf[offsetUnitID],
		Timestamp:  binary.LittleEndian.Uint64(buf[offsetTimestamp:]),
		MaxTemp:    math.Float32frombits(binary.LittleEndian.Uint32(buf[offsetMaxTemp:])),
		AvgTemp:    math.Float32frombits(binary.LittleEndian.Uint32(buf[offsetAvgTemp:])),
		PayloadLen: n,
		Matrix:     matrix,
	}, nil
}

// Encode renders s in wire form. The declared cell count is taken from the matrix length.
func Encode(s Sample) []byte {
	buf := make([]byte, HeaderSize+len(s.Matrix)*CellSize)
	buf[0] = Magic
	buf[offsetUnitID] = s.UnitID
	binary.LittleEndian.PutUint64(buf[offsetTimestamp:], s.Timestamp)
	binary.LittleEndian.PutUint32(buf[offsetMaxTemp:], math.Float32bits(s.MaxTemp))
	binary.LittleEndian.PutUint32(buf[offsetAvgTemp:], math.Float32bits(s.AvgTemp))
	binary.LittleEndian.PutUint32(buf[offsetPayloadLen:], uint32(len(s.Matrix)))
	body := buf[HeaderSize:]
	for i, v := range s.Matrix {
		binary.LittleEndian.PutUint32(body[i*CellSize:], math.Float32bits(v))
	}
	return buf
}

// Reason returns a short label for a decode error, suitable for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrShortHeader):
		return "short_header"
	case errors.Is(err, ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	default:
		return "other"
	}
}
