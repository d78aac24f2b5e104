package sim

import (
	"math"
	"math/rand"
	"sync"
)

// A Generator produces the samples of successive simulated frames.
type Generator interface {
	// Pixels is the number of samples in every frame.
	Pixels() int
	// Next returns the samples of the next frame.
	Next() []uint16
}

// PatternGenerator produces a linear ramp that climbs by a fixed step every frame and
// wraps once the step position reaches the top level.
type PatternGenerator struct {
	mu       sync.Mutex
	pixels   int
	topLevel int
	jump     int
	position int
}

// NewPatternGenerator returns the default 1024 pixel ramp from position to position+1000.
func NewPatternGenerator() *PatternGenerator {
	return &PatternGenerator{pixels: 1024, topLevel: 1000, jump: 1}
}

// Pixels returns the frame width.
func (g *PatternGenerator) Pixels() int {
	return g.pixels
}

// Next returns the ramp at the current position and advances it.
func (g *PatternGenerator) Next() []uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := float64(g.position)
	end := float64(g.position + g.topLevel)
	out := make([]uint16, g.pixels)
	step := (end - start) / float64(g.pixels-1)
	for i := range out {
		out[i] = clamp(start + float64(i)*step)
	}
	g.position += g.jump
	if g.position >= g.topLevel {
		g.position = 0
	}
	return out
}

// Reset moves the ramp back to its start.
func (g *PatternGenerator) Reset() {
	g.mu.Lock()
	g.position = 0
	g.mu.Unlock()
}

// SpectraGenerator produces a fixed Raman-like spectrum with fresh noise on every frame.
type SpectraGenerator struct {
	mu           sync.Mutex
	rnd          *rand.Rand
	base         []float64
	noiseFloor   float64
	noiseCeiling float64
}

// NewSpectraGenerator returns a 2048 pixel spectrum with ten peaks, seeded for repeatability.
func NewSpectraGenerator(seed int64) *SpectraGenerator {
	const (
		pixels = 2048
		peaks  = 10
		width  = 10
		minGap = 10
	)
	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec
	base := make([]float64, pixels)
	for i := range base {
		base[i] = uniform(rnd, 100, 200)
	}
	for p := 0; p < peaks; p++ {
		x := int(uniform(rnd, 100, pixels-width-1))
		floor := uniform(rnd, 500, 1000) + minGap
		for i := 0; i < width/2; i++ {
			base[x] += uniform(rnd, floor, floor+minGap)
			floor += minGap
			x++
		}
		for i := 0; i < width/2; i++ {
			base[x] += uniform(rnd, floor-minGap, floor)
			floor -= minGap
			x++
		}
	}
	return &SpectraGenerator{rnd: rnd, base: base, noiseFloor: 50, noiseCeiling: 150}
}

// Pixels returns the frame width.
func (g *SpectraGenerator) Pixels() int {
	return len(g.base)
}

// Next returns the spectrum with noise applied.
func (g *SpectraGenerator) Next() []uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint16, len(g.base))
	for i, v := range g.base {
		out[i] = clamp(v + uniform(g.rnd, g.noiseFloor, g.noiseCeiling))
	}
	return out
}

// SledGenerator produces the broad emission profile of a superluminescent diode. Gain and
// offset shift the baseline.
type SledGenerator struct {
	mu           sync.Mutex
	rnd          *rand.Rand
	base         []float64
	noiseCeiling float64
}

// NewSledGenerator returns a 2048 pixel profile centered on the detector.
func NewSledGenerator(seed int64) *SledGenerator {
	const pixels = 2048
	base := make([]float64, pixels)
	for i := range base {
		d := (float64(i) - pixels/2) / 600
		base[i] = 500 + 3000*math.Exp(-d*d)
	}
	return &SledGenerator{
		rnd:          rand.New(rand.NewSource(seed)), //nolint:gosec
		base:         base,
		noiseCeiling: 10,
	}
}

// Pixels returns the frame width.
func (g *SledGenerator) Pixels() int {
	return len(g.base)
}

// Next returns the profile with noise applied.
func (g *SledGenerator) Next() []uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint16, len(g.base))
	for i, v := range g.base {
		out[i] = clamp(v + uniform(g.rnd, 0, g.noiseCeiling))
	}
	return out
}

// SetGain raises the baseline by gain counts.
func (g *SledGenerator) SetGain(gain int) error {
	g.shift(float64(gain))
	return nil
}

// SetOffset raises the baseline by offset counts.
func (g *SledGenerator) SetOffset(offset int) error {
	g.shift(float64(offset))
	return nil
}

func (g *SledGenerator) shift(by float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.base {
		g.base[i] += by
	}
}

func uniform(rnd *rand.Rand, low, high float64) float64 {
	return low + rnd.Float64()*(high-low)
}

func clamp(v float64) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(math.Round(v))
	}
}
