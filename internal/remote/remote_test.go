package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/protocol"
)

const tick = time.Second / 60

type recordingVisuals struct {
	spawned   map[protocol.PeerID]string
	despawned []protocol.PeerID
	poses     map[protocol.PeerID]Transform
	tags      map[protocol.PeerID]string
	dead      map[protocol.PeerID]bool
}

func newRecordingVisuals() *recordingVisuals {
	return &recordingVisuals{
		spawned: map[protocol.PeerID]string{},
		poses:   map[protocol.PeerID]Transform{},
		tags:    map[protocol.PeerID]string{},
		dead:    map[protocol.PeerID]bool{},
	}
}

func (v *recordingVisuals) Spawn(id protocol.PeerID, f string)           { v.spawned[id] = f }
func (v *recordingVisuals) Despawn(id protocol.PeerID)                   { v.despawned = append(v.despawned, id) }
func (v *recordingVisuals) SetTransform(id protocol.PeerID, t Transform) { v.poses[id] = t }
func (v *recordingVisuals) SetTag(id protocol.PeerID, text string)       { v.tags[id] = text }
func (v *recordingVisuals) SetDead(id protocol.PeerID, dead bool)        { v.dead[id] = dead }

func snap(id protocol.PeerID, ts int64, pos geom.Vec3, teleport bool) protocol.PlayerSnapshot {
	return protocol.PlayerSnapshot{
		EntityID:   id,
		Timestamp:  ts,
		Position:   pos,
		Rotation:   geom.Identity,
		LeftHand:   pos.Add(geom.Vec3{X: -0.3, Y: 1}),
		RightHand:  pos.Add(geom.Vec3{X: 0.3, Y: 1}),
		IsTeleport: teleport,
	}
}

// pastGrace creates id and feeds it enough updates to leave the grace period.
func pastGrace(s *Synchronizer, id protocol.PeerID, at geom.Vec3) *Entity {
	e := s.Create(id, "Player")
	for i := 0; i < s.cfg.GraceUpdates; i++ {
		s.Apply(snap(id, int64(i), at, false))
		s.Tick(tick)
	}
	s.Tick(tick)
	return e
}

func TestCreateIsIdempotent(t *testing.T) {
	v := newRecordingVisuals()
	s := New(DefaultConfig(), v)

	e1 := s.Create(7, "Player")
	e2 := s.Create(7, "Other")

	assert.Same(t, e1, e2)
	assert.Equal(t, "Player", e1.FactoryID)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "Player", v.spawned[7])
	assert.Equal(t, geom.Vec3{}, e1.Body.Position)
	assert.False(t, e1.HasTarget)
	assert.Equal(t, 5, e1.Grace)
}

func TestGracePeriodTeleports(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := s.Create(7, "Player")

	for i := 0; i < 5; i++ {
		p := geom.Vec3{X: float32(i * 10)}
		s.Apply(snap(7, int64(i), p, false))
		assert.Equal(t, p, e.Body.Position, "update %d should be placed directly", i)
		assert.Equal(t, geom.Vec3{}, e.Body.Velocity)
		s.Tick(tick)
		assert.Equal(t, p, e.Body.Position, "tick after teleport must not smooth")
	}
	assert.Zero(t, e.Grace)

	// the sixth update is smoothed
	far := geom.Vec3{X: 45}
	s.Apply(snap(7, 5, far, false))
	assert.NotEqual(t, far, e.Body.Position)
	s.Tick(tick)
	assert.Greater(t, e.Body.Position.X, float32(40))
	assert.Less(t, e.Body.Position.X, float32(45))
}

func TestTeleportIsExact(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := pastGrace(s, 7, geom.Vec3{})

	s.Apply(snap(7, 10, geom.Vec3{X: 3}, false))
	s.Tick(tick)
	require.NotZero(t, e.Body.Velocity.Magnitude())

	dest := geom.Vec3{X: 100, Y: 2, Z: -4}
	s.Apply(snap(7, 11, dest, true))
	s.Tick(tick)

	assert.Equal(t, dest, e.Body.Position)
	assert.Equal(t, geom.Vec3{}, e.Body.Velocity)
	assert.Equal(t, dest.Add(geom.Vec3{X: -0.3, Y: 1}), e.LeftHand.Position)
}

func TestSnapBeyondDistance(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := pastGrace(s, 7, geom.Vec3{})

	dest := geom.Vec3{Z: 80}
	s.Apply(snap(7, 10, dest, false))
	s.Tick(tick)
	assert.Equal(t, dest, e.Body.Position)
	assert.Equal(t, geom.Vec3{}, e.Body.Velocity)
}

func TestStaleSnapshotIgnored(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := pastGrace(s, 7, geom.Vec3{})

	assert.True(t, e.Apply(snap(7, 20, geom.Vec3{X: 1}, false)))
	assert.False(t, e.Apply(snap(7, 19, geom.Vec3{X: 9}, false)))
	assert.Equal(t, geom.Vec3{X: 1}, e.Body.Target)

	// teleports always win
	assert.True(t, e.Apply(snap(7, 1, geom.Vec3{X: 9}, true)))
	assert.Equal(t, geom.Vec3{X: 9}, e.Body.Position)
}

func TestRotationAppliedImmediately(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := pastGrace(s, 7, geom.Vec3{})

	sn := snap(7, 10, geom.Vec3{X: 2}, false)
	sn.Rotation = geom.Quat{Y: 0.7071068, W: 0.7071068}
	s.Apply(sn)
	assert.Equal(t, sn.Rotation, e.Rotation)
}

func TestUnknownPeerDropped(t *testing.T) {
	v := newRecordingVisuals()
	s := New(DefaultConfig(), v)

	for i := 0; i < 10; i++ {
		s.Apply(snap(99, int64(i), geom.Vec3{X: 1}, false))
	}
	assert.Zero(t, s.Len())
	assert.Empty(t, v.spawned)
}

func TestRemoveAndRecreateRestartsGrace(t *testing.T) {
	v := newRecordingVisuals()
	s := New(DefaultConfig(), v)
	pastGrace(s, 7, geom.Vec3{X: 4})

	s.Remove(7)
	s.Remove(7)
	assert.Equal(t, []protocol.PeerID{7}, v.despawned)

	e := s.Create(7, "Player")
	assert.Equal(t, 5, e.Grace)
	assert.Equal(t, geom.Vec3{}, e.Body.Position)
}

func TestTagsAndDeath(t *testing.T) {
	v := newRecordingVisuals()
	s := New(DefaultConfig(), v)
	e := s.Create(7, "Player")

	s.SetTag(7, "hello")
	s.MarkDead(7)
	s.SetTag(8, "nobody")

	assert.Equal(t, "hello", e.Tag)
	assert.True(t, e.Dead)
	assert.Equal(t, map[protocol.PeerID]string{7: "hello"}, v.tags)
	assert.True(t, v.dead[7])

	s.Apply(snap(7, 1, geom.Vec3{}, false))
	assert.False(t, e.Dead)
}

func TestResetRemovesAll(t *testing.T) {
	v := newRecordingVisuals()
	s := New(DefaultConfig(), v)
	s.Create(3, "Player")
	s.Create(2, "Player")

	s.Reset()
	assert.Zero(t, s.Len())
	assert.Equal(t, []protocol.PeerID{2, 3}, v.despawned)
}

func TestTickPublishesTransforms(t *testing.T) {
	v := newRecordingVisuals()
	s := New(DefaultConfig(), v)
	pastGrace(s, 7, geom.Vec3{Y: 1})

	assert.Equal(t, geom.Vec3{Y: 1}, v.poses[7].Position)
	assert.Equal(t, geom.Identity, v.poses[7].Rotation)
}

func TestBodyConverges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Float32Range(-40, 40).Draw(t, "x")
		y := rapid.Float32Range(-10, 10).Draw(t, "y")
		z := rapid.Float32Range(-40, 40).Draw(t, "z")
		target := geom.Vec3{X: x, Y: y, Z: z}

		tr := newTrack(BodyParams())
		tr.Target = target
		start := tr.Position.Distance(target)

		prev := start
		for i := 0; i < 600; i++ {
			tr.Step(1.0 / 60)
			d := tr.Position.Distance(target)
			if d > prev+1e-3 {
				t.Fatalf("distance grew from %v to %v at step %d", prev, d, i)
			}
			prev = d
		}
		if prev > BodyParams().Epsilon {
			t.Fatalf("still %v away after 10s (started %v)", prev, start)
		}
	})
}

func TestHandsNoOvershoot(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := geom.Vec3{X: rapid.Float32Range(0.01, 5).Draw(t, "x")}
		tr := newTrack(HandParams())
		tr.Target = target

		for i := 0; i < 300; i++ {
			tr.Step(1.0 / 60)
			if tr.Position.X > target.X+1e-4 {
				t.Fatalf("overshot to %v (target %v)", tr.Position.X, target.X)
			}
		}
	})
}

func TestSmoothTimeClamped(t *testing.T) {
	tr := newTrack(BodyParams())
	assert.InDelta(t, 0.05, tr.SmoothTime(0), 1e-6)
	assert.InDelta(t, 0.1, tr.SmoothTime(2), 1e-6)
	assert.InDelta(t, 0.2, tr.SmoothTime(40), 1e-6)
}
