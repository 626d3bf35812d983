package lobby

import (
	"cmp"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/util"
)

type room struct {
	info session.LobbyInfo // Members in join order
}

type registration struct {
	ep    Endpoint
	lobby session.LobbyID // zero when in no lobby
}

// Directory is the in-memory lobby registry. Each registered peer is in at
// most one lobby. Notifications are delivered after the directory lock is
// released, in the order the changes happened.
type Directory struct {
	mu      sync.Mutex
	lobbies map[session.LobbyID]*room
	peers   map[session.PeerID]*registration
}

func NewDirectory() *Directory {
	return &Directory{
		lobbies: make(map[session.LobbyID]*room),
		peers:   make(map[session.PeerID]*registration),
	}
}

// Register assigns ep a fresh peer id.
func (d *Directory) Register(ep Endpoint) session.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		id := session.PeerID(rand.Uint64())
		if !id.IsReal() {
			continue
		}
		if _, taken := d.peers[id]; taken {
			continue
		}
		d.peers[id] = &registration{ep: ep}
		return id
	}
}

// Unregister removes id, leaving its lobby first.
func (d *Directory) Unregister(id session.PeerID) {
	d.Leave(id)
	d.mu.Lock()
	delete(d.peers, id)
	d.mu.Unlock()
}

// Create opens a lobby owned by owner, leaving any lobby owner was in.
func (d *Directory) Create(owner session.PeerID, name string, maxMembers int, data map[string]string) (session.LobbyInfo, error) {
	d.Leave(owner)

	d.mu.Lock()
	reg, ok := d.peers[owner]
	if !ok {
		d.mu.Unlock()
		return session.LobbyInfo{}, ErrNotMember
	}
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}

	var id session.LobbyID
	for id == 0 || d.lobbies[id] != nil {
		id = session.LobbyID(rand.Uint64())
	}
	info := session.LobbyInfo{
		ID:         id,
		Name:       name,
		Owner:      owner,
		MaxMembers: maxMembers,
		Members:    []session.PeerID{owner},
		Data:       maps.Clone(data),
	}
	if info.Data == nil {
		info.Data = make(map[string]string)
	}
	info.Data[KeyName] = name
	info.Data[KeyOwner] = owner.String()
	d.lobbies[id] = &room{info: info}
	reg.lobby = id
	d.mu.Unlock()

	util.LogInfo("lobby %d (%q) created by %s", id, name, owner)
	return copyInfo(info), nil
}

// Join adds peer to lobby id and notifies the existing members.
func (d *Directory) Join(peer session.PeerID, id session.LobbyID) (session.LobbyInfo, error) {
	d.mu.Lock()
	reg, ok := d.peers[peer]
	if !ok {
		d.mu.Unlock()
		return session.LobbyInfo{}, ErrNotMember
	}
	r, ok := d.lobbies[id]
	if !ok {
		d.mu.Unlock()
		return session.LobbyInfo{}, ErrNoSuchLobby
	}
	if reg.lobby == id {
		info := copyInfo(r.info)
		d.mu.Unlock()
		return info, nil
	}
	if len(r.info.Members) >= r.info.MaxMembers {
		d.mu.Unlock()
		return session.LobbyInfo{}, ErrLobbyFull
	}
	inOther := reg.lobby != 0
	d.mu.Unlock()

	// leave the old lobby outside the lock, then retry the checks
	if inOther {
		d.Leave(peer)
		return d.Join(peer, id)
	}

	d.mu.Lock()
	r, ok = d.lobbies[id]
	if !ok {
		d.mu.Unlock()
		return session.LobbyInfo{}, ErrNoSuchLobby
	}
	if len(r.info.Members) >= r.info.MaxMembers {
		d.mu.Unlock()
		return session.LobbyInfo{}, ErrLobbyFull
	}
	others := d.endpoints(r.info.Members)
	r.info.Members = append(r.info.Members, peer)
	reg.lobby = id
	info := copyInfo(r.info)
	d.mu.Unlock()

	for _, ep := range others {
		ep.MemberJoined(id, peer)
	}
	util.LogInfo("%s joined lobby %d (%d/%d)", peer, id, len(info.Members), info.MaxMembers)
	return info, nil
}

// Leave removes peer from its lobby. The longest-standing remaining member
// inherits ownership; an empty lobby is deleted.
func (d *Directory) Leave(peer session.PeerID) { d.LeaveLobby(peer, 0) }

// LeaveLobby is Leave restricted to lobby id. A zero id matches any lobby.
func (d *Directory) LeaveLobby(peer session.PeerID, id session.LobbyID) {
	d.mu.Lock()
	reg, ok := d.peers[peer]
	if !ok || reg.lobby == 0 || (id != 0 && reg.lobby != id) {
		d.mu.Unlock()
		return
	}
	id = reg.lobby
	reg.lobby = 0
	r := d.lobbies[id]
	r.info.Members = slices.DeleteFunc(r.info.Members, func(m session.PeerID) bool { return m == peer })

	if len(r.info.Members) == 0 {
		delete(d.lobbies, id)
		d.mu.Unlock()
		util.LogInfo("lobby %d closed", id)
		return
	}

	promoted := false
	if r.info.Owner == peer {
		r.info.Owner = r.info.Members[0]
		r.info.Data[KeyOwner] = r.info.Owner.String()
		promoted = true
	}
	owner := r.info.Owner
	others := d.endpoints(r.info.Members)
	d.mu.Unlock()

	for _, ep := range others {
		ep.MemberLeft(id, peer)
	}
	if promoted {
		util.LogInfo("lobby %d ownership passed to %s", id, owner)
		for _, ep := range others {
			ep.OwnerChanged(id, owner)
		}
	}
}

// Relay delivers sig to its target when both ends share a lobby.
func (d *Directory) Relay(sig Signal) error {
	d.mu.Lock()
	from, okFrom := d.peers[sig.From]
	to, okTo := d.peers[sig.To]
	if !okFrom || !okTo || from.lobby == 0 || from.lobby != to.lobby {
		d.mu.Unlock()
		return ErrNotMember
	}
	ep := to.ep
	d.mu.Unlock()

	ep.Signal(sig)
	return nil
}

// Lookup returns a snapshot of lobby id.
func (d *Directory) Lookup(id session.LobbyID) (session.LobbyInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.lobbies[id]
	if !ok {
		return session.LobbyInfo{}, false
	}
	return copyInfo(r.info), true
}

// List returns every lobby, ordered by id.
func (d *Directory) List() []session.LobbyInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]session.LobbyInfo, 0, len(d.lobbies))
	for _, r := range d.lobbies {
		out = append(out, copyInfo(r.info))
	}
	slices.SortFunc(out, func(a, b session.LobbyInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Lobbies reports how many lobbies are open.
func (d *Directory) Lobbies() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lobbies)
}

// Peers reports how many peers are registered.
func (d *Directory) Peers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

// endpoints must be called with d.mu held.
func (d *Directory) endpoints(ids []session.PeerID) []Endpoint {
	out := make([]Endpoint, 0, len(ids))
	for _, id := range ids {
		if reg, ok := d.peers[id]; ok {
			out = append(out, reg.ep)
		}
	}
	return out
}

func copyInfo(info session.LobbyInfo) session.LobbyInfo {
	info.Members = slices.Clone(info.Members)
	info.Data = maps.Clone(info.Data)
	return info
}
