package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/meshlobby/internal/bufpool"
	"github.com/1ureka/meshlobby/internal/util"
)

// peer is the manager's record of one other member.
type peer struct {
	id     PeerID
	state  ConnState
	link   Link
	linkUp bool
	conn   *connector

	// reported is true between a PeerConnected event and its matching
	// PeerDisconnected.
	reported bool
	// abandoned peers exhausted their attempts; only a fresh membership
	// event revives them.
	abandoned bool
}

// Manager owns the local session and every relay link. Except for the
// listener callbacks, its methods must be called from the tick goroutine.
type Manager struct {
	ctx       context.Context
	cfg       Config
	lobby     Lobby
	transport Transport
	pool      *bufpool.Pool
	dispatch  Dispatcher

	inbox inbox
	tasks tasks

	state   State
	gen     uint64
	lobbyID LobbyID
	name    string
	owner   PeerID
	members map[PeerID]struct{}
	peers   map[PeerID]*peer
	// held links came up before the lobby announced their peer
	held map[PeerID]Link

	dropLog     rate.Sometimes
	subscribers []func(Event)
}

// New wires a manager to its lobby and transport. The manager registers
// itself as the listener of both.
func New(ctx context.Context, cfg Config, lobby Lobby, transport Transport, pool *bufpool.Pool) *Manager {
	if pool == nil {
		pool = bufpool.Default
	}
	m := &Manager{
		ctx:       ctx,
		cfg:       cfg,
		lobby:     lobby,
		transport: transport,
		pool:      pool,
		members:   make(map[PeerID]struct{}),
		peers:     make(map[PeerID]*peer),
		held:      make(map[PeerID]Link),
		dropLog:   rate.Sometimes{Interval: 5 * time.Second},
	}
	transport.SetListener(transportEvents{m})
	lobby.SetListener(lobbyEvents{m})
	return m
}

// SetDispatcher sets where drained messages go. It must be called before the
// first Update.
func (m *Manager) SetDispatcher(d Dispatcher) { m.dispatch = d }

// Subscribe registers fn for every event. Events fire on the tick goroutine.
func (m *Manager) Subscribe(fn func(Event)) {
	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) emit(ev Event) {
	for _, fn := range m.subscribers {
		fn(ev)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (m *Manager) Self() PeerID      { return m.lobby.Self() }
func (m *Manager) State() State      { return m.state }
func (m *Manager) InSession() bool   { return m.state == Joined }
func (m *Manager) LobbyID() LobbyID  { return m.lobbyID }
func (m *Manager) LobbyName() string { return m.name }
func (m *Manager) Owner() PeerID     { return m.owner }
func (m *Manager) IsOwner() bool     { return m.state == Joined && m.owner == m.Self() }

// Members returns every session member, self included, in id order.
func (m *Manager) Members() []PeerID {
	out := make([]PeerID, 0, len(m.members))
	for id := range m.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// PeerState returns the connection state toward id.
func (m *Manager) PeerState(id PeerID) ConnState {
	if p, ok := m.peers[id]; ok {
		return p.state
	}
	return ConnNone
}

// Connected returns the peers currently in the Connected state, in id order.
func (m *Manager) Connected() []PeerID {
	var out []PeerID
	for id, p := range m.peers {
		if p.state == ConnConnected {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// HasConnections reports whether any relay link is up.
func (m *Manager) HasConnections() bool {
	for _, p := range m.peers {
		if p.linkUp {
			return true
		}
	}
	return false
}

// Pending reports inbound messages waiting for a later Update.
func (m *Manager) Pending() int { return m.inbox.len() }

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// CreateSession asks the lobby for a new session. cb runs on the tick
// goroutine once the lobby answers.
func (m *Manager) CreateSession(name string, maxMembers int, data map[string]string, cb func(LobbyID, error)) error {
	gen, err := m.beginJoin()
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.LobbyTimeout)
		defer cancel()
		info, err := m.lobby.Create(ctx, name, maxMembers, data)
		m.tasks.post(func() { m.finishJoin(gen, info, err, cb) })
	}()
	return nil
}

// JoinSession asks the lobby to join an existing session. cb runs on the
// tick goroutine once the lobby answers.
func (m *Manager) JoinSession(id LobbyID, cb func(LobbyID, error)) error {
	gen, err := m.beginJoin()
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.LobbyTimeout)
		defer cancel()
		info, err := m.lobby.Join(ctx, id)
		m.tasks.post(func() { m.finishJoin(gen, info, err, cb) })
	}()
	return nil
}

func (m *Manager) beginJoin() (uint64, error) {
	switch m.state {
	case Joining:
		return 0, ErrBusy
	case Joined:
		return 0, ErrInSession
	}
	m.gen++
	m.state = Joining
	return m.gen, nil
}

func (m *Manager) finishJoin(gen uint64, info LobbyInfo, err error, cb func(LobbyID, error)) {
	if gen != m.gen || m.state != Joining {
		// Leave ran while the request was in flight. Only the lobby this
		// reply put us in is left; a later join stays untouched.
		if err == nil {
			m.lobby.Leave(info.ID)
		}
		if cb != nil {
			cb(0, ErrNotInSession)
		}
		return
	}

	if err != nil {
		m.state = JoinError
		util.LogError("failed to enter session: %v", err)
		if cb != nil {
			cb(0, err)
		}
		return
	}

	m.state = Joined
	m.lobbyID = info.ID
	m.name = info.Name
	m.owner = info.Owner
	self := m.Self()
	m.members[self] = struct{}{}
	for _, id := range info.Members {
		if id == self || !id.IsReal() {
			continue
		}
		m.members[id] = struct{}{}
		m.addPeer(id, m.cfg.InitialDelay)
	}
	util.LogSuccess("entered session %d (%q) as %s with %d other member(s)", info.ID, info.Name, self, len(m.peers))

	if cb != nil {
		cb(info.ID, nil)
	}
}

// Leave closes every relay link and clears the session. It is idempotent.
func (m *Manager) Leave() {
	if m.state == NotJoined {
		return
	}
	wasIn := m.state == Joined || m.state == Joining
	current := m.lobbyID
	m.gen++

	for _, id := range m.sortedPeers() {
		m.dropPeer(m.peers[id], ReasonSessionEnded)
	}
	for id, link := range m.held {
		delete(m.held, id)
		link.Close()
	}
	clear(m.members)
	m.state = NotJoined
	m.lobbyID = 0
	m.name = ""
	m.owner = 0

	for {
		msg, ok := m.inbox.pop()
		if !ok {
			break
		}
		m.pool.Return(msg.buf)
	}

	if wasIn {
		m.lobby.Leave(current)
		util.LogInfo("left session")
	}
}

// Close leaves the session and shuts the transport down.
func (m *Manager) Close() error {
	m.Leave()
	if err := m.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Update runs queued callbacks, advances connection attempts by dt, then
// drains up to DrainBatch inbound messages into the dispatcher.
func (m *Manager) Update(dt time.Duration) {
	m.tasks.run()

	for _, id := range m.sortedPeers() {
		if p, ok := m.peers[id]; ok && p.conn != nil {
			m.advance(p, dt)
		}
	}

	for i := 0; i < m.cfg.DrainBatch; i++ {
		msg, ok := m.inbox.pop()
		if !ok {
			break
		}
		m.process(msg)
	}
}

func (m *Manager) process(msg inbound) {
	defer m.pool.Return(msg.buf)

	if m.state != Joined || m.dispatch == nil {
		return
	}
	if err := m.dispatch.Route(msg.from, msg.buf); err != nil {
		util.Stats.AddDropped()
		logged := false
		m.dropLog.Do(func() {
			logged = true
			util.LogError("dropped message from %s: %v", msg.from, err)
		})
		if !logged {
			util.LogDebug("dropped message from %s: %v", msg.from, err)
		}
	}
}

func (m *Manager) sortedPeers() []PeerID {
	ids := make([]PeerID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ---------------------------------------------------------------------------
// Membership
// ---------------------------------------------------------------------------

func (m *Manager) isMember(id PeerID) bool {
	_, ok := m.members[id]
	return m.state == Joined && ok
}

func (m *Manager) addPeer(id PeerID, delay time.Duration) *peer {
	p := &peer{id: id}
	m.peers[id] = p
	m.startConnector(p, delay, false)
	return p
}

// dropPeer forgets p entirely, closing its link.
func (m *Manager) dropPeer(p *peer, reason Reason) {
	delete(m.peers, p.id)
	m.closeLink(p)
	p.conn = nil
	p.state = ConnNone
	if p.reported {
		p.reported = false
		m.emit(Event{Kind: PeerDisconnected, Peer: p.id, Reason: reason})
	}
}

func (m *Manager) closeLink(p *peer) {
	if p.link == nil {
		return
	}
	link := p.link
	p.link = nil
	p.linkUp = false
	if err := link.Close(); err != nil {
		util.LogDebug("close link to %s: %v", p.id, err)
	}
}

func (m *Manager) onMemberJoined(lobby LobbyID, id PeerID) {
	if m.state != Joined || lobby != m.lobbyID || id == m.Self() || !id.IsReal() {
		return
	}
	m.members[id] = struct{}{}
	util.LogInfo("member %s joined", id)

	link, held := m.held[id]
	delete(m.held, id)
	delay := m.cfg.InitialDelay
	if held {
		delay = 0
	}

	p, ok := m.peers[id]
	switch {
	case !ok:
		m.addPeer(id, delay)
	case p.abandoned:
		p.abandoned = false
		m.startConnector(p, delay, false)
	}
	if held {
		m.onLinkUp(link)
	}
}

func (m *Manager) onMemberLeft(lobby LobbyID, id PeerID) {
	if m.state != Joined || lobby != m.lobbyID || id == m.Self() {
		return
	}
	delete(m.members, id)
	util.LogInfo("member %s left", id)
	if link, ok := m.held[id]; ok {
		delete(m.held, id)
		link.Close()
	}
	if p, ok := m.peers[id]; ok {
		m.dropPeer(p, ReasonLeft)
	}
}

func (m *Manager) onOwnerChanged(lobby LobbyID, owner PeerID) {
	if m.state != Joined || lobby != m.lobbyID || owner == m.owner {
		return
	}
	m.owner = owner
	util.LogInfo("session owner is now %s", owner)
	m.emit(Event{Kind: OwnerChanged, Peer: owner})
}

// ---------------------------------------------------------------------------
// Relay links
// ---------------------------------------------------------------------------

func (m *Manager) onLinkUp(link Link) {
	id := link.Peer()
	if !id.IsReal() || id == m.Self() || m.state != Joined {
		link.Close()
		return
	}

	p, ok := m.peers[id]
	if !ok {
		// The link beat the lobby's join notification. Membership only
		// comes from the lobby, so park the link until it does.
		m.hold(id, link)
		return
	}
	if p.abandoned {
		util.LogDebug("refusing link from abandoned peer %s", id)
		link.Close()
		return
	}

	if p.link != nil && p.link != link {
		if preferLink(m.Self(), p.link, link) == p.link {
			link.Close()
			return
		}
		util.LogDebug("replacing duplicate link to %s", id)
		m.closeLink(p)
	}

	p.link = link
	p.linkUp = true
	if p.conn == nil && p.state != ConnConnected {
		m.startConnector(p, 0, p.reported)
	}
}

func (m *Manager) hold(id PeerID, link Link) {
	if old, ok := m.held[id]; ok && old != link {
		if preferLink(m.Self(), old, link) == old {
			link.Close()
			return
		}
		m.held[id] = link
		old.Close()
		return
	}
	util.LogDebug("holding link from %s until the lobby announces it", id)
	m.held[id] = link
}

func (m *Manager) onLinkDown(link Link) {
	if m.held[link.Peer()] == link {
		delete(m.held, link.Peer())
		return
	}
	p, ok := m.peers[link.Peer()]
	if !ok || p.link != link {
		return
	}
	m.closeLink(p)

	if p.conn != nil || p.state != ConnConnected {
		return
	}
	p.state = ConnDisconnected
	util.LogWarning("link to %s dropped", p.id)
	if m.isMember(p.id) {
		m.startConnector(p, m.cfg.ReconnectDelay, true)
	}
}

// preferLink picks which of two links to the same peer survives. Both sides
// of the pair reach the same answer: the link dialed by the smaller id wins,
// and between two links with the same dialer the newer one wins.
func preferLink(self PeerID, current, incoming Link) Link {
	if current.Outbound() == incoming.Outbound() {
		return incoming
	}
	dialedBySelf := current
	if incoming.Outbound() {
		dialedBySelf = incoming
	}
	dialedByPeer := current
	if dialedBySelf == current {
		dialedByPeer = incoming
	}
	if self < current.Peer() {
		return dialedBySelf
	}
	return dialedByPeer
}

// ---------------------------------------------------------------------------
// Listener adapters (any goroutine)
// ---------------------------------------------------------------------------

type transportEvents struct{ m *Manager }

func (e transportEvents) LinkUp(link Link)   { e.m.tasks.post(func() { e.m.onLinkUp(link) }) }
func (e transportEvents) LinkDown(link Link) { e.m.tasks.post(func() { e.m.onLinkDown(link) }) }

// Message copies data into a pooled buffer and queues it for the tick.
func (e transportEvents) Message(from PeerID, data []byte) {
	buf := e.m.pool.Rent(len(data))
	copy(buf, data)
	e.m.inbox.push(inbound{from: from, buf: buf})
}

type lobbyEvents struct{ m *Manager }

func (e lobbyEvents) MemberJoined(lobby LobbyID, peer PeerID) {
	e.m.tasks.post(func() { e.m.onMemberJoined(lobby, peer) })
}

func (e lobbyEvents) MemberLeft(lobby LobbyID, peer PeerID) {
	e.m.tasks.post(func() { e.m.onMemberLeft(lobby, peer) })
}

func (e lobbyEvents) OwnerChanged(lobby LobbyID, owner PeerID) {
	e.m.tasks.post(func() { e.m.onOwnerChanged(lobby, owner) })
}
