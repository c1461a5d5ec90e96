// Package synth generates synthetic thermal-neutron events for boron-coated
// pixel detectors and feeds them to the reconstruction service, either as a
// JSON-lines file or through the HTTP ingest.
package synth

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
)

// ErrNoDetectors is returned when the registry has nothing to generate for.
var ErrNoDetectors = errors.New("no detectors to generate events for")

// PDG code of the incoming neutron.
const PDGNeutron = 2112

// Kinetic energies of the boron capture products in MeV.
const (
	alphaEnergy   = 1.47
	lithiumEnergy = 0.84
)

// Generation defaults.
const (
	defaultConversionProb = 0.3
	defaultSiCaptureProb  = 0.01
	defaultNoiseHits      = 2
	defaultCharge         = 2000
	defaultSeed           = 1

	depositsPerParticle = 3
	spreadPitches       = 0.6  // charge-sharing sigma in pixel pitches
	sharingThreshold    = 0.02 // neighbours below this fraction of the charge are dropped
	productRange        = 0.005
	noiseMin            = 5
	noiseRange          = 20
)

// Generator produces events for every detector of a registry. It is safe for
// concurrent use; the event sequence depends only on the seed.
type Generator struct {
	mu sync.Mutex

	dets []*geometry.Detector
	src  *rand.ChaCha8
	rng  *rand.Rand

	seed           uint64
	conversionProb float64
	siCaptureProb  float64
	noiseHits      int
	charge         float64
	number         uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed fixes the random seed.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.seed = seed }
}

// WithConversionProbability sets the chance of a conversion per detector and
// event.
func WithConversionProbability(p float64) Option {
	return func(g *Generator) {
		if p >= 0 && p <= 1 {
			g.conversionProb = p
		}
	}
}

// WithSiCaptureProbability sets the chance of a neutron capture on silicon
// per event.
func WithSiCaptureProbability(p float64) Option {
	return func(g *Generator) {
		if p >= 0 && p <= 1 {
			g.siCaptureProb = p
		}
	}
}

// WithNoise sets the number of noise pixels per detector and event.
func WithNoise(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.noiseHits = n
		}
	}
}

// WithCharge sets the mean conversion cluster charge.
func WithCharge(q float64) Option {
	return func(g *Generator) {
		if q > 0 {
			g.charge = q
		}
	}
}

// NewGenerator returns a generator for the detectors of reg.
func NewGenerator(reg *geometry.Registry, opts ...Option) (*Generator, error) {
	dets := reg.Detectors()
	if len(dets) == 0 {
		return nil, ErrNoDetectors
	}
	g := &Generator{
		dets:           dets,
		seed:           defaultSeed,
		conversionProb: defaultConversionProb,
		siCaptureProb:  defaultSiCaptureProb,
		noiseHits:      defaultNoiseHits,
		charge:         defaultCharge,
	}
	for _, opt := range opts {
		opt(g)
	}
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], g.seed)
	g.src = rand.NewChaCha8(key)
	g.rng = rand.New(g.src)
	return g, nil
}

// Next returns the next event.
func (g *Generator) Next() *model.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.number++
	ev := &model.Event{
		ID:        uuid.Must(uuid.NewRandomFromReader(g.src)).String(),
		Number:    g.number,
		Tracks:    []model.MCTrack{{ID: 1, PDG: PDGNeutron, KineticEnergyStart: 25e-9}},
		Detectors: make(map[string]*model.DetectorData, len(g.dets)),
	}
	for _, det := range g.dets {
		data := &model.DetectorData{}
		occupied := make(map[geometry.Index]bool)
		if g.rng.Float64() < g.conversionProb {
			g.conversion(ev, det, data, occupied)
		}
		g.noise(det, data, occupied)
		ev.Detectors[det.Name()] = data
	}
	if g.rng.Float64() < g.siCaptureProb {
		ev.Tracks = append(ev.Tracks, model.MCTrack{
			ID: len(ev.Tracks) + 1, ParentID: 1, PDG: analysis.PDGSilicon30, Process: "nCapture",
		})
	}
	return ev
}

// conversion adds one capture product entering the sensor at a random point,
// its deposits and the pixels sharing its charge.
func (g *Generator) conversion(ev *model.Event, det *geometry.Detector, data *model.DetectorData, occupied map[geometry.Index]bool) {
	m := det.Model()
	pitch := m.PixelSize()
	n := m.NPixels()

	start := r3.Vec{
		X: (g.rng.Float64()*float64(n.X) - 0.5) * pitch.X,
		Y: (g.rng.Float64()*float64(n.Y) - 0.5) * pitch.Y,
		Z: -m.GridSize().Z / 2,
	}
	phi := 2 * math.Pi * g.rng.Float64()
	end := r3.Add(start, r3.Vec{
		X: productRange * math.Cos(phi) / 2,
		Y: productRange * math.Sin(phi) / 2,
		Z: productRange,
	})

	pdg, energy := analysis.PDGAlpha, alphaEnergy
	if g.rng.Float64() < 0.5 {
		pdg, energy = analysis.PDGLithium7, lithiumEnergy
	}
	track := len(ev.Tracks) + 1
	ev.Tracks = append(ev.Tracks, model.MCTrack{
		ID:                 track,
		ParentID:           1,
		PDG:                pdg,
		Start:              model.PointOf(det.ToGlobal(start)),
		End:                model.PointOf(det.ToGlobal(end)),
		KineticEnergyStart: energy,
		Process:            "nCapture",
	})

	ref := model.ParticleRef(len(data.Particles))
	data.Particles = append(data.Particles, model.MCParticle{
		PDG:        pdg,
		Track:      track,
		LocalStart: model.PointOf(start),
		LocalEnd:   model.PointOf(end),
	})

	total := g.charge * (0.8 + 0.4*g.rng.Float64())
	for i := range depositsPerParticle {
		f := (float64(i) + 0.5) / depositsPerParticle
		data.Deposits = append(data.Deposits, model.Deposit{
			Position: model.PointOf(r3.Add(start, r3.Scale(f, r3.Sub(end, start)))),
			Charge:   total / depositsPerParticle,
			Time:     f,
			Particle: int(ref),
		})
	}

	seed := m.PixelIndex(start)
	sigma := spreadPitches * math.Max(pitch.X, pitch.Y)
	type share struct {
		idx    geometry.Index
		weight float64
	}
	var shares []share
	sum := 0.0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			idx := geometry.Index{X: seed.X + dx, Y: seed.Y + dy}
			if !m.IsWithinGrid(idx) {
				continue
			}
			d := r3.Sub(m.PixelPosition(idx), r3.Vec{X: start.X, Y: start.Y})
			w := math.Exp(-(d.X*d.X + d.Y*d.Y) / (2 * sigma * sigma))
			shares = append(shares, share{idx: idx, weight: w})
			sum += w
		}
	}
	for _, s := range shares {
		frac := s.weight / sum
		if frac < sharingThreshold {
			continue
		}
		occupied[s.idx] = true
		data.Hits = append(data.Hits, model.PixelHit{
			Detector:  det.Name(),
			Index:     s.idx,
			Signal:    math.Round(total * frac),
			Particles: []model.ParticleRef{ref},
		})
	}
}

// noise adds isolated pixels without truth on free positions.
func (g *Generator) noise(det *geometry.Detector, data *model.DetectorData, occupied map[geometry.Index]bool) {
	n := det.Model().NPixels()
	for range g.noiseHits {
		idx := geometry.Index{X: g.rng.IntN(n.X), Y: g.rng.IntN(n.Y)}
		if occupied[idx] {
			continue
		}
		occupied[idx] = true
		data.Hits = append(data.Hits, model.PixelHit{
			Detector: det.Name(),
			Index:    idx,
			Signal:   math.Round(noiseMin + noiseRange*g.rng.Float64()),
		})
	}
}
