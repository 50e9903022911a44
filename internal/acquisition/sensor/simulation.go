package sensor

import (
	"context"
	"math/rand/v2"
)

// Simulated wanders randomly between 0 and a max distance, for running without hardware.
type Simulated struct {
	maxDistance float64
	current     float64
	rnd         *rand.Rand
}

// NewSimulated returns a simulated sensor starting half way to maxDistance.
func NewSimulated(maxDistance float64, seed uint64) *Simulated {
	return &Simulated{
		maxDistance: maxDistance,
		current:     maxDistance / 2,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Distance moves by up to 5% of the range on each call.
func (s *Simulated) Distance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	step := (s.rnd.Float64()*2 - 1) * s.maxDistance * 0.05
	s.current = min(max(s.current+step, 0), s.maxDistance)
	return s.current, nil
}

// Close is a no-op.
func (s *Simulated) Close() error {
	return nil
}
