package game

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/remote"
	"github.com/1ureka/meshlobby/internal/router"
)

const (
	peerA protocol.PeerID = 0xa0
	peerB protocol.PeerID = 0xb0
	peerC protocol.PeerID = 0xc0
)

type wire struct {
	from, to protocol.PeerID
	msg      []byte
}

// mesh is a fully connected set of nodes whose messages are delivered only
// when pumped.
type mesh struct {
	nodes map[protocol.PeerID]*node
	queue []wire
}

type captureConsole struct{ lines []string }

func (c *captureConsole) Print(_ protocol.PeerID, text string) { c.lines = append(c.lines, text) }

type node struct {
	m     *mesh
	id    protocol.PeerID
	owner protocol.PeerID

	router    *router.Router
	rules     *Rules
	world     *HeadlessWorld
	player    *HeadlessPlayer
	inventory *MemoryInventory
	entities  *remote.Synchronizer
	console   *captureConsole

	initialized int
	teleported  int
}

func newMesh(t *testing.T, cfg Config, owner protocol.PeerID, ids ...protocol.PeerID) *mesh {
	m := &mesh{nodes: make(map[protocol.PeerID]*node)}
	for _, id := range ids {
		n := &node{
			m:         m,
			id:        id,
			owner:     owner,
			world:     NewHeadlessWorld(0),
			player:    NewHeadlessPlayer("Slugcat", 100),
			inventory: NewMemoryInventory(nil),
			entities:  remote.New(remote.DefaultConfig(), nil),
			console:   &captureConsole{},
		}
		n.rules = New(cfg, Deps{
			Net:           n,
			Entities:      n.entities,
			World:         n.world,
			Player:        n.player,
			Inventory:     n.inventory,
			Console:       n.console,
			OnInitialized: func() { n.initialized++ },
			OnTeleported:  func() { n.teleported++ },
		})
		table, err := n.rules.Register(router.NewRegistry()).Build()
		require.NoError(t, err)
		n.router = router.New(table, n, router.Options{})
		m.nodes[id] = n
	}
	return m
}

func (m *mesh) pump(t *testing.T) {
	t.Helper()
	for len(m.queue) > 0 {
		w := m.queue[0]
		m.queue = m.queue[1:]
		require.NoError(t, m.nodes[w.to].router.Route(w.from, w.msg))
	}
}

func (n *node) Self() protocol.PeerID { return n.id }
func (n *node) IsOwner() bool         { return n.id == n.owner }

func (n *node) NewWriter(target protocol.PeerID, typ protocol.PacketType) *protocol.Writer {
	return protocol.NewWriter(protocol.Header{Sender: n.id, Target: target, Type: typ})
}

func (n *node) SendTo(id protocol.PeerID, msg []byte) error {
	if _, ok := n.m.nodes[id]; !ok || id == n.id {
		return errors.New("no link")
	}
	n.m.queue = append(n.m.queue, wire{from: n.id, to: id, msg: bytes.Clone(msg)})
	return nil
}

func (n *node) SendToOwner(msg []byte) error { return n.SendTo(n.owner, msg) }
func (n *node) Broadcast(msg []byte)         { n.BroadcastExcept(protocol.Broadcast, msg) }

func (n *node) Forward(target protocol.PeerID, msg []byte) error { return n.SendTo(target, msg) }

func (n *node) BroadcastExcept(except protocol.PeerID, msg []byte) {
	ids := make([]protocol.PeerID, 0, len(n.m.nodes))
	for id := range n.m.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if id != n.id && id != except {
			_ = n.SendTo(id, msg)
		}
	}
}

func TestWorldInit(t *testing.T) {
	m := newMesh(t, DefaultConfig(), peerA, peerA, peerB, peerC)
	a, b, c := m.nodes[peerA], m.nodes[peerB], m.nodes[peerC]
	a.world.LoadSeed(1234)

	require.NoError(t, b.rules.RequestWorldInit())
	m.pump(t)
	assert.EqualValues(t, 1234, b.world.Seed())
	assert.Equal(t, 1, b.world.SeedLoads())
	assert.Equal(t, 1, b.initialized)

	// a repeated seed is not reloaded but still initializes
	require.NoError(t, b.rules.RequestWorldInit())
	m.pump(t)
	assert.Equal(t, 1, b.world.SeedLoads())
	assert.Equal(t, 2, b.initialized)

	// only the owner answers
	w := c.NewWriter(peerB, protocol.TypeWorldInitRequest)
	require.NoError(t, c.SendTo(peerB, w.Bytes()))
	w.Release()
	m.pump(t)
	assert.Zero(t, c.initialized)
}

func TestCreateAndSnapshot(t *testing.T) {
	m := newMesh(t, DefaultConfig(), peerA, peerA, peerB)
	a, b := m.nodes[peerA], m.nodes[peerB]

	require.NoError(t, a.rules.RequestPlayer(peerB))
	m.pump(t)
	e, ok := a.entities.Entity(peerB)
	require.True(t, ok)
	assert.Equal(t, "Slugcat", e.FactoryID)

	b.rules.SendSnapshot(protocol.PlayerSnapshot{
		EntityID: peerB,
		Position: geom.Vec3{X: 1, Y: 2, Z: 3},
		Rotation: geom.Identity,
	})
	m.pump(t)
	assert.Equal(t, geom.Vec3{X: 1, Y: 2, Z: 3}, e.Body.Position)

	// a relayed copy of our own snapshot is ignored
	w := b.NewWriter(protocol.Broadcast, protocol.TypePlayerDataUpdate)
	defer w.Release()
	(&protocol.PlayerSnapshot{EntityID: peerA}).Encode(w)
	require.NoError(t, a.router.Route(peerB, w.Bytes()))
	_, ok = a.entities.Entity(peerA)
	assert.False(t, ok)
}

func TestChatAndWorldState(t *testing.T) {
	m := newMesh(t, DefaultConfig(), peerA, peerA, peerB, peerC)
	a, b, c := m.nodes[peerA], m.nodes[peerB], m.nodes[peerC]
	require.NoError(t, b.rules.RequestPlayer(peerA))
	m.pump(t)

	a.rules.Say("hello")
	a.rules.SyncWorldState(12.5, "rain")
	m.pump(t)

	assert.Equal(t, []string{"hello"}, b.console.lines)
	assert.Equal(t, []string{"hello"}, c.console.lines)
	e, ok := b.entities.Entity(peerA)
	require.True(t, ok)
	assert.Equal(t, "hello", e.Tag)

	clock, weather := c.world.State()
	assert.InDelta(t, 12.5, clock, 1e-6)
	assert.Equal(t, "rain", weather)
}

func TestDamageAndForce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scale = 0.5
	cfg.OtherScale = 3
	cfg.ByType["hammer"] = 2

	m := newMesh(t, cfg, peerA, peerA, peerB)
	a, b := m.nodes[peerA], m.nodes[peerB]

	require.NoError(t, a.rules.Hit(peerB, 10, "Hammer"))
	m.pump(t)
	assert.InDelta(t, 90, b.player.Health(), 1e-4)

	require.NoError(t, a.rules.Hit(peerB, 4, "lava"))
	m.pump(t)
	assert.InDelta(t, 84, b.player.Health(), 1e-4)

	require.NoError(t, a.rules.Push(peerB, geom.Vec3{Y: 5}, "explosion"))
	require.NoError(t, a.rules.Push(peerB, geom.Vec3{X: 1}, "explosion"))
	m.pump(t)
	assert.Equal(t, geom.Vec3{X: 1, Y: 5}, b.player.Impulse())
}

func TestDeathDropsItems(t *testing.T) {
	m := newMesh(t, DefaultConfig(), peerA, peerA, peerB)
	a, b := m.nodes[peerA], m.nodes[peerB]
	require.NoError(t, a.rules.RequestPlayer(peerB))
	m.pump(t)

	b.inventory.Add(NoItem, 1)
	b.inventory.Add(HammerItem, 1)
	b.inventory.Add("Item_Rope", 2)
	b.rules.Died("fall")
	m.pump(t)

	assert.Equal(t, map[string]int{"Item_Rope": 2}, a.world.Drops())
	e, _ := a.entities.Entity(peerB)
	assert.True(t, e.Dead)
	assert.Len(t, a.console.lines, 1)
	assert.Contains(t, a.console.lines[0], "fall")
}

func TestTeleport(t *testing.T) {
	tests := []struct {
		name   string
		hazard *Hazard
	}{
		{"without hazard", nil},
		{"with hazard", &Hazard{RelativeHeight: -12, Active: true, Speed: 0.4, SpeedMult: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMesh(t, DefaultConfig(), peerA, peerA, peerB)
			a, b := m.nodes[peerA], m.nodes[peerB]

			a.player.Move(geom.Vec3{X: 10, Y: 20, Z: 30})
			a.inventory.Add("Item_Rope", 3)
			a.inventory.Add("Item_Flare", 1)
			a.inventory.Add("Artifact_Gold", 1)
			a.inventory.Add(NoItem, 1)
			if tt.hazard != nil {
				a.world.LoadHazard(*tt.hazard)
			}
			b.inventory.Add("Item_Rope", 1)

			require.NoError(t, b.rules.RequestTeleport(peerA))
			m.pump(t)

			assert.Equal(t, geom.Vec3{X: 10, Y: 20, Z: 30}, b.player.Position())
			assert.Equal(t, map[string]uint8{"Item_Rope": 3, "Item_Flare": 1}, b.inventory.Items())
			assert.Equal(t, 1, b.teleported)

			h, ok := b.world.Hazard()
			assert.Equal(t, tt.hazard != nil, ok)
			if tt.hazard != nil {
				assert.Equal(t, *tt.hazard, h)
			}
		})
	}
}

func TestMalformedPayloadReported(t *testing.T) {
	m := newMesh(t, DefaultConfig(), peerA, peerA, peerB)
	b := m.nodes[peerB]

	// header only, the payload is missing
	msg := protocol.EncodeHeader(protocol.Header{Sender: peerA, Target: peerB, Type: protocol.TypeWorldStateSync})
	err := b.router.Route(peerA, msg)
	assert.ErrorIs(t, err, router.ErrMalformed)
	_, weather := b.world.State()
	assert.Empty(t, weather)
}

func TestSetDifference(t *testing.T) {
	tests := []struct {
		name       string
		minuend    map[string]uint8
		subtrahend map[string]uint8
		want       map[string]uint8
	}{
		{"disjoint", map[string]uint8{"a": 2}, map[string]uint8{"b": 1}, map[string]uint8{"a": 2}},
		{"surplus", map[string]uint8{"a": 5}, map[string]uint8{"a": 2}, map[string]uint8{"a": 3}},
		{"equal", map[string]uint8{"a": 2}, map[string]uint8{"a": 2}, map[string]uint8{}},
		{"deficit", map[string]uint8{"a": 1}, map[string]uint8{"a": 4}, map[string]uint8{}},
		{"empty", nil, map[string]uint8{"a": 4}, map[string]uint8{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SetDifference(tt.minuend, tt.subtrahend))
		})
	}
}

func TestMatchSuffix(t *testing.T) {
	ids := []protocol.PeerID{0x1234abcd, 0x9999abcd, 0x42}
	assert.Equal(t, []protocol.PeerID{0x1234abcd, 0x9999abcd}, MatchSuffix(ids, "ABCD"))
	assert.Equal(t, []protocol.PeerID{0x1234abcd}, MatchSuffix(ids, "4abcd"))
	assert.Equal(t, []protocol.PeerID{0x42}, MatchSuffix(ids, "0042"))
	assert.Empty(t, MatchSuffix(ids, " "))
}

func TestDamageFor(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 7, cfg.DamageFor(7, "ice"), 1e-6)
	assert.InDelta(t, 7, cfg.DamageFor(7, "Hammer"), 1e-6)
	cfg.OtherScale = 0
	assert.Zero(t, cfg.DamageFor(7, "unknown"))
}
