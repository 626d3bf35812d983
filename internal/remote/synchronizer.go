// Package remote keeps a smoothed pose for every remote participant.
package remote

import (
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/util"
)

// Visuals is the rendering side of a remote participant. The synchronizer
// never builds visuals itself; it only asks for them.
type Visuals interface {
	Spawn(id protocol.PeerID, factoryID string)
	Despawn(id protocol.PeerID)
	SetTransform(id protocol.PeerID, t Transform)
	SetTag(id protocol.PeerID, text string)
	SetDead(id protocol.PeerID, dead bool)
}

// Config holds the per-entity tuning.
type Config struct {
	GraceUpdates int
	Body         Params
	Hand         Params
}

func DefaultConfig() Config {
	return Config{GraceUpdates: 5, Body: BodyParams(), Hand: HandParams()}
}

// Synchronizer owns every Entity. It is driven from the tick goroutine only.
type Synchronizer struct {
	cfg      Config
	visuals  Visuals
	entities map[protocol.PeerID]*Entity

	unknownLog rate.Sometimes
}

func New(cfg Config, visuals Visuals) *Synchronizer {
	if visuals == nil {
		visuals = nopVisuals{}
	}
	return &Synchronizer{
		cfg:        cfg,
		visuals:    visuals,
		entities:   make(map[protocol.PeerID]*Entity),
		unknownLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Create starts tracking id. Creating an id that already exists keeps the
// existing entity.
func (s *Synchronizer) Create(id protocol.PeerID, factoryID string) *Entity {
	if e, ok := s.entities[id]; ok {
		return e
	}
	e := newEntity(id, factoryID, s.cfg)
	s.entities[id] = e
	s.visuals.Spawn(id, factoryID)
	s.visuals.SetTransform(id, e.Transform())
	util.LogDebug("tracking remote participant %s (%s)", id, factoryID)
	return e
}

// Remove stops tracking id. A later Create starts a fresh grace period.
func (s *Synchronizer) Remove(id protocol.PeerID) {
	if _, ok := s.entities[id]; !ok {
		return
	}
	delete(s.entities, id)
	s.visuals.Despawn(id)
	util.LogDebug("stopped tracking remote participant %s", id)
}

// Reset removes every entity.
func (s *Synchronizer) Reset() {
	for _, id := range s.ids() {
		s.Remove(id)
	}
}

// Apply routes a snapshot to its entity. Snapshots for unknown ids are
// dropped with a throttled error.
func (s *Synchronizer) Apply(snap protocol.PlayerSnapshot) {
	e, ok := s.entities[snap.EntityID]
	if !ok {
		s.unknownLog.Do(func() {
			util.LogError("snapshot for unknown participant %s", snap.EntityID)
		})
		return
	}
	e.Apply(snap)
}

// SetTag attaches a short text (name tag or chat line) to an entity.
func (s *Synchronizer) SetTag(id protocol.PeerID, text string) {
	if e, ok := s.entities[id]; ok {
		e.Tag = text
		s.visuals.SetTag(id, text)
	}
}

// MarkDead flags an entity as dead until its next snapshot.
func (s *Synchronizer) MarkDead(id protocol.PeerID) {
	if e, ok := s.entities[id]; ok {
		e.Dead = true
		s.visuals.SetDead(id, true)
	}
}

// Tick advances every entity and publishes the new transforms.
func (s *Synchronizer) Tick(dt time.Duration) {
	sec := float32(dt.Seconds())
	for _, id := range s.ids() {
		e := s.entities[id]
		e.Tick(sec)
		s.visuals.SetTransform(id, e.Transform())
	}
}

// Entity returns the state for id.
func (s *Synchronizer) Entity(id protocol.PeerID) (*Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

func (s *Synchronizer) Len() int { return len(s.entities) }

func (s *Synchronizer) ids() []protocol.PeerID {
	ids := make([]protocol.PeerID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type nopVisuals struct{}

func (nopVisuals) Spawn(protocol.PeerID, string)           {}
func (nopVisuals) Despawn(protocol.PeerID)                 {}
func (nopVisuals) SetTransform(protocol.PeerID, Transform) {}
func (nopVisuals) SetTag(protocol.PeerID, string)          {}
func (nopVisuals) SetDead(protocol.PeerID, bool)           {}
