package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshlobby/internal/bufpool"
	"github.com/1ureka/meshlobby/internal/core"
	"github.com/1ureka/meshlobby/internal/game"
	"github.com/1ureka/meshlobby/internal/geom"
	"github.com/1ureka/meshlobby/internal/lobby"
	"github.com/1ureka/meshlobby/internal/memnet"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/session"
)

const step = 50 * time.Millisecond

type node struct {
	core      *core.Core
	client    *lobby.LocalClient
	world     *game.HeadlessWorld
	player    *game.HeadlessPlayer
	inventory *game.MemoryInventory
}

func newNode(t *testing.T, dir *lobby.Directory, net *memnet.Network, seed int32, items map[string]uint8) *node {
	t.Helper()
	client := lobby.NewLocalClient(dir)
	n := &node{
		client:    client,
		world:     game.NewHeadlessWorld(seed),
		player:    game.NewHeadlessPlayer("slugcat", 100),
		inventory: game.NewMemoryInventory(items),
	}
	c, err := core.New(context.Background(), core.DefaultConfig(), core.Deps{
		Lobby:     client,
		Transport: net.Node(client.Self()),
		Pool:      bufpool.New(),
		World:     n.world,
		Player:    n.player,
		Inventory: n.inventory,
		Console:   game.LogConsole{},
	})
	require.NoError(t, err)
	n.core = c
	t.Cleanup(func() {
		_ = c.Close()
		_ = client.Close()
	})
	return n
}

// until ticks every node by step until cond holds.
func until(t *testing.T, cond func() bool, nodes ...*node) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			n.core.Update(step)
		}
		return cond()
	}, 5*time.Second, time.Millisecond)
}

type result struct {
	mu   sync.Mutex
	done bool
	id   session.LobbyID
	err  error
}

func (r *result) set(id session.LobbyID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done, r.id, r.err = true, id, err
}

func (r *result) get() (bool, session.LobbyID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done, r.id, r.err
}

func host(t *testing.T, n *node) session.LobbyID {
	t.Helper()
	res := &result{}
	require.NoError(t, n.core.CreateSession("cave", res.set))
	until(t, func() bool { done, _, _ := res.get(); return done }, n)
	_, id, err := res.get()
	require.NoError(t, err)
	return id
}

func join(t *testing.T, n *node, id session.LobbyID, others ...*node) {
	t.Helper()
	res := &result{}
	require.NoError(t, n.core.JoinSession(id, res.set))
	until(t, func() bool { done, _, _ := res.get(); return done }, append(others, n)...)
	_, _, err := res.get()
	require.NoError(t, err)
}

func suffixOf(id protocol.PeerID) string {
	s := id.String()
	return s[len(s)-6:]
}

func TestHostInitializedOnCreate(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, nil)

	assert.False(t, a.core.Initialized())
	id := host(t, a)

	assert.True(t, a.core.InSession())
	assert.True(t, a.core.Initialized())
	assert.True(t, a.core.IsOwner())
	assert.Equal(t, id, a.core.LobbyID())

	info, ok := dir.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "dev", info.Data[lobby.KeyGameVersion])
}

func TestJoinerReceivesSeedAndAvatars(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, nil)
	b := newNode(t, dir, net, 7, nil)

	id := host(t, a)
	join(t, b, id, a)
	assert.False(t, b.core.Initialized())

	until(t, func() bool {
		_, aSeesB := a.core.Synchronizer().Entity(b.core.Self())
		_, bSeesA := b.core.Synchronizer().Entity(a.core.Self())
		return b.core.Initialized() && aSeesB && bSeesA
	}, a, b)

	assert.Equal(t, int32(42), b.world.Seed())
	assert.Equal(t, 1, b.world.SeedLoads())
	assert.Equal(t, []protocol.PeerID{a.core.Self()}, b.core.Connected())
	assert.ElementsMatch(t, []protocol.PeerID{a.core.Self(), b.core.Self()}, a.core.Members())

	e, _ := b.core.Synchronizer().Entity(a.core.Self())
	assert.Equal(t, "slugcat", e.FactoryID)
}

func TestMotionReachesRemote(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, nil)
	b := newNode(t, dir, net, 7, nil)

	id := host(t, a)
	join(t, b, id, a)
	until(t, func() bool {
		_, ok := b.core.Synchronizer().Entity(a.core.Self())
		return b.core.Initialized() && ok
	}, a, b)

	target := geom.Vec3{X: 10, Y: 2, Z: -3}
	a.player.Move(target)
	until(t, func() bool {
		e, ok := b.core.Synchronizer().Entity(a.core.Self())
		return ok && e.Body.Position.Sub(target).Magnitude() < 0.1
	}, a, b)
}

func TestTeleportToParticipant(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, map[string]uint8{"Item_Rope": 2})
	b := newNode(t, dir, net, 7, nil)

	id := host(t, a)
	join(t, b, id, a)
	until(t, func() bool {
		return b.core.Initialized() && len(b.core.Connected()) == 1
	}, a, b)

	dest := geom.Vec3{X: 4, Y: 50, Z: 1}
	a.player.Move(dest)

	got, err := b.core.TeleportTo(suffixOf(a.core.Self()))
	require.NoError(t, err)
	assert.Equal(t, a.core.Self(), got)

	until(t, func() bool { return b.player.Position() == dest }, a, b)
	assert.Equal(t, uint8(2), b.inventory.Items()["Item_Rope"])
}

func TestTeleportToErrors(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, nil)

	_, err := a.core.TeleportTo("1")
	assert.ErrorIs(t, err, session.ErrNotInSession)

	host(t, a)
	_, err = a.core.TeleportTo("1")
	assert.ErrorIs(t, err, core.ErrNoMatch)
}

func TestSayRequiresSession(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, nil)
	assert.ErrorIs(t, a.core.Say("hi"), session.ErrNotInSession)
}

func TestLeaveForgetsRemotes(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, nil)
	b := newNode(t, dir, net, 7, nil)

	id := host(t, a)
	join(t, b, id, a)
	until(t, func() bool {
		return a.core.Synchronizer().Len() == 1 && b.core.Synchronizer().Len() == 1
	}, a, b)

	b.core.Leave()
	assert.False(t, b.core.InSession())
	assert.False(t, b.core.Initialized())
	assert.Zero(t, b.core.Synchronizer().Len())

	until(t, func() bool { return a.core.Synchronizer().Len() == 0 }, a, b)
	assert.Equal(t, []protocol.PeerID{a.core.Self()}, a.core.Members())

	a.core.ResetScene()
	assert.False(t, a.core.InSession())
	assert.Equal(t, session.NotJoined, a.core.State())
}

func TestOwnerLeavesBeforeSeed(t *testing.T) {
	dir, net := lobby.NewDirectory(), memnet.NewNetwork()
	a := newNode(t, dir, net, 42, nil)
	b := newNode(t, dir, net, 7, nil)

	id := host(t, a)
	join(t, b, id, a)

	// a leaves before b could ask for the seed
	a.core.Leave()
	until(t, func() bool { return b.core.IsOwner() }, b)
	assert.True(t, b.core.Initialized())
	assert.Equal(t, int32(7), b.world.Seed())
}
