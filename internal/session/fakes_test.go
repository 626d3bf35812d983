package session_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshlobby/internal/bufpool"
	"github.com/1ureka/meshlobby/internal/memnet"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/session"
)

const testLobby session.LobbyID = 42

// fakeDir is a single-lobby directory shared by fakeLobby clients.
type fakeDir struct {
	mu      sync.Mutex
	owner   protocol.PeerID
	members []protocol.PeerID
	clients map[protocol.PeerID]*fakeLobby
}

func newFakeDir() *fakeDir {
	return &fakeDir{clients: make(map[protocol.PeerID]*fakeLobby)}
}

// addGhost records a member with no client behind it.
func (d *fakeDir) addGhost(id protocol.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members = append(d.members, id)
	if d.owner == 0 {
		d.owner = id
	}
}

func (d *fakeDir) others(self protocol.PeerID) []*fakeLobby {
	var out []*fakeLobby
	for id, c := range d.clients {
		if id != self && slices.Contains(d.members, id) {
			out = append(out, c)
		}
	}
	return out
}

type fakeLobby struct {
	dir  *fakeDir
	self protocol.PeerID

	mu        sync.Mutex
	listener  session.LobbyListener
	createErr error
	createID  session.LobbyID // lobby Create puts the client in; testLobby when zero
	gate      chan struct{}   // when set, Create's reply waits for it
	leaves    int
	current   session.LobbyID
}

var _ session.Lobby = (*fakeLobby)(nil)

func (d *fakeDir) client(self protocol.PeerID) *fakeLobby {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeLobby{dir: d, self: self}
	d.clients[self] = c
	return c
}

func (f *fakeLobby) Self() protocol.PeerID { return f.self }

func (f *fakeLobby) SetListener(l session.LobbyListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeLobby) currentListener() session.LobbyListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

func (f *fakeLobby) currentLobby() session.LobbyID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Create takes effect at once, like a request the server has already
// handled; only the reply is held back by gate.
func (f *fakeLobby) Create(ctx context.Context, name string, maxMembers int, _ map[string]string) (session.LobbyInfo, error) {
	if f.createErr != nil {
		return session.LobbyInfo{}, f.createErr
	}
	id := f.createID
	if id == 0 {
		id = testLobby
	}
	f.mu.Lock()
	f.current = id
	f.mu.Unlock()

	if id == testLobby {
		d := f.dir
		d.mu.Lock()
		d.owner = f.self
		d.members = []protocol.PeerID{f.self}
		d.mu.Unlock()
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return session.LobbyInfo{}, ctx.Err()
		}
	}
	return session.LobbyInfo{ID: id, Name: name, Owner: f.self, MaxMembers: maxMembers, Members: []protocol.PeerID{f.self}}, nil
}

func (f *fakeLobby) Join(_ context.Context, id session.LobbyID) (session.LobbyInfo, error) {
	if id != testLobby {
		return session.LobbyInfo{}, errors.New("no such lobby")
	}
	f.mu.Lock()
	f.current = testLobby
	f.mu.Unlock()

	d := f.dir
	d.mu.Lock()
	others := d.others(f.self)
	d.members = append(d.members, f.self)
	info := session.LobbyInfo{ID: testLobby, Owner: d.owner, Members: slices.Clone(d.members)}
	d.mu.Unlock()

	for _, c := range others {
		if l := c.currentListener(); l != nil {
			l.MemberJoined(testLobby, f.self)
		}
	}
	return info, nil
}

func (f *fakeLobby) Leave(id session.LobbyID) {
	f.mu.Lock()
	f.leaves++
	if id != 0 && id != f.current {
		f.mu.Unlock()
		return
	}
	wasIn := f.current == testLobby
	f.current = 0
	f.mu.Unlock()
	if !wasIn {
		return
	}

	d := f.dir
	d.mu.Lock()
	d.members = slices.DeleteFunc(d.members, func(id protocol.PeerID) bool { return id == f.self })
	others := d.others(f.self)
	d.mu.Unlock()

	for _, c := range others {
		if l := c.currentListener(); l != nil {
			l.MemberLeft(testLobby, f.self)
		}
	}
}

func (f *fakeLobby) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

// lockedBuffer is a log sink safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorder collects messages handed to the dispatcher.
type recorder struct {
	msgs [][]byte
	err  error
}

func (r *recorder) Route(_ protocol.PeerID, msg []byte) error {
	r.msgs = append(r.msgs, append([]byte(nil), msg...))
	return r.err
}

type peerHarness struct {
	id     protocol.PeerID
	lobby  *fakeLobby
	mgr    *session.Manager
	pool   *bufpool.Pool
	rec    *recorder
	events []session.Event
}

func newPeer(t *testing.T, dir *fakeDir, net *memnet.Network, id protocol.PeerID) *peerHarness {
	t.Helper()
	h := &peerHarness{id: id, lobby: dir.client(id), pool: bufpool.New(), rec: &recorder{}}
	h.mgr = session.New(context.Background(), session.DefaultConfig(), h.lobby, net.Node(id), h.pool)
	h.mgr.SetDispatcher(h.rec)
	h.mgr.Subscribe(func(ev session.Event) { h.events = append(h.events, ev) })
	t.Cleanup(func() { _ = h.mgr.Close() })
	return h
}

func (h *peerHarness) count(kind session.EventKind) int {
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// enter blocks until an asynchronous create or join has completed.
func enter(t *testing.T, h *peerHarness, start func(cb func(session.LobbyID, error)) error) error {
	t.Helper()
	var (
		mu   sync.Mutex
		done bool
		res  error
	)
	require.NoError(t, start(func(_ session.LobbyID, err error) {
		mu.Lock()
		defer mu.Unlock()
		done, res = true, err
	}))
	require.Eventually(t, func() bool {
		h.mgr.Update(0)
		mu.Lock()
		defer mu.Unlock()
		return done
	}, 2*time.Second, time.Millisecond)
	return res
}

const step = 50 * time.Millisecond

// run advances every harness by n ticks of step.
func run(n int, hs ...*peerHarness) {
	for i := 0; i < n; i++ {
		for _, h := range hs {
			h.mgr.Update(step)
		}
	}
}

// runUntil advances ticks until cond holds, returning the simulated time used.
func runUntil(t *testing.T, limit time.Duration, cond func() bool, hs ...*peerHarness) time.Duration {
	t.Helper()
	var elapsed time.Duration
	for elapsed <= limit {
		if cond() {
			return elapsed
		}
		run(1, hs...)
		elapsed += step
	}
	t.Fatalf("condition not met within %s", limit)
	return elapsed
}
