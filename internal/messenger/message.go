package messenger

import (
	"fmt"

	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/model"
)

// Kind is the closed set of message types carried by the bus.
type Kind uint8

const (
	KindMCTrack Kind = iota + 1
	KindMCParticle
	KindDeposit
	KindPixelHit
	KindCluster

	kindCount = int(KindCluster) + 1
)

var kindNames = [...]string{
	KindMCTrack:    "mc_track",
	KindMCParticle: "mc_particle",
	KindDeposit:    "deposit",
	KindPixelHit:   "pixel_hit",
	KindCluster:    "cluster",
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k >= KindMCTrack && k <= KindCluster }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Kinds lists every declared kind.
func Kinds() []Kind {
	return []Kind{KindMCTrack, KindMCParticle, KindDeposit, KindPixelHit, KindCluster}
}

// Wildcard is the detector binding of a subscriber that accepts every
// detector, and of a message not bound to any detector.
const Wildcard = ""

// Message is an immutable, event-scoped payload. Only the field matching
// Kind is set. Source names the producing module and is stamped on publish.
type Message struct {
	Kind     Kind
	Detector string
	Source   string

	Tracks    []model.MCTrack
	Particles []model.MCParticle
	Deposits  []model.Deposit
	Hits      []model.PixelHit
	Clusters  []*clustering.Cluster
}

// Len is the number of records carried.
func (m *Message) Len() int {
	switch m.Kind {
	case KindMCTrack:
		return len(m.Tracks)
	case KindMCParticle:
		return len(m.Particles)
	case KindDeposit:
		return len(m.Deposits)
	case KindPixelHit:
		return len(m.Hits)
	case KindCluster:
		return len(m.Clusters)
	}
	return 0
}

// NewTracks carries the event's truth tracks; tracks are never detector bound.
func NewTracks(tracks []model.MCTrack) *Message {
	return &Message{Kind: KindMCTrack, Tracks: tracks}
}

// NewParticles carries one detector's truth particles.
func NewParticles(detector string, particles []model.MCParticle) *Message {
	return &Message{Kind: KindMCParticle, Detector: detector, Particles: particles}
}

// NewDeposits carries one detector's energy deposits.
func NewDeposits(detector string, deposits []model.Deposit) *Message {
	return &Message{Kind: KindDeposit, Detector: detector, Deposits: deposits}
}

// NewHits carries one detector's pixel hits.
func NewHits(detector string, hits []model.PixelHit) *Message {
	return &Message{Kind: KindPixelHit, Detector: detector, Hits: hits}
}

// NewClusters carries one detector's reconstructed clusters.
func NewClusters(detector string, clusters []*clustering.Cluster) *Message {
	return &Message{Kind: KindCluster, Detector: detector, Clusters: clusters}
}
