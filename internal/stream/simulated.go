package stream

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/skobkin/gcu-sentinel/internal/frame"
)

const (
	simWidth          = 160
	simHeight         = 120
	simUnitSwitchTime = 5 * time.Second
)

// SimulatedDialer produces synthetic 160x120 frames, for demos without hardware.
// The unit id alternates between 1 and 2 every five seconds of wall time.
type SimulatedDialer struct {
	Interval time.Duration
	// Seed makes the noise reproducible. Zero seeds from the clock.
	Seed uint64
	// Now overrides the wall clock.
	Now func() time.Time
}

// Dial starts a synthetic connection.
func (d *SimulatedDialer) Dial(ctx context.Context) (Conn, error) {
	if d.Interval <= 0 {
		return nil, fmt.Errorf("simulation interval must be > 0")
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	seed := d.Seed
	if seed == 0 {
		seed = uint64(now().UnixNano())
	}
	return &simulatedConn{
		now:    now,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ticker: time.NewTicker(d.Interval),
	}, nil
}

type simulatedConn struct {
	now    func() time.Time
	rng    *rand.Rand
	ticker *time.Ticker
}

func (c *simulatedConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ticker.C:
	}
	return frame.Encode(c.next()), nil
}

func (c *simulatedConn) next() frame.Sample {
	ts := c.now()
	const cells = simWidth * simHeight
	matrix := make([]float32, cells)
	for i := range matrix {
		matrix[i] = float32(20 + c.rng.Float64()*5 + float64(i)/cells*40)
	}
	unit := uint8(ts.UnixMilli()/simUnitSwitchTime.Milliseconds()%2) + 1
	return frame.Sample{
		UnitID:     unit,
		Timestamp:  uint64(ts.UnixMilli()),
		MaxTemp:    float32(65 + c.rng.Float64()*10),
		AvgTemp:    float32(45 + c.rng.Float64()*2),
		PayloadLen: cells,
		Matrix:     matrix,
	}
}

func (c *simulatedConn) Close() error {
	c.ticker.Stop()
	return nil
}
