package session

import (
	"fmt"

	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/util"
)

// NewWriter returns a pooled writer addressed from this process to target.
func (m *Manager) NewWriter(target PeerID, typ protocol.PacketType) *protocol.Writer {
	return protocol.NewWriter(protocol.Header{Sender: m.Self(), Target: target, Type: typ})
}

// SendTo sends an encoded message to one peer over its relay link. The
// delivery class follows the message's packet type.
func (m *Manager) SendTo(id PeerID, msg []byte) error {
	p, ok := m.peers[id]
	if !ok || !p.linkUp {
		return fmt.Errorf("%w %s", ErrUnknownPeer, id)
	}
	return m.send(p, msg)
}

// SendToOwner sends msg to the session owner.
func (m *Manager) SendToOwner(msg []byte) error {
	if m.state != Joined {
		return ErrNotInSession
	}
	return m.SendTo(m.owner, msg)
}

// Broadcast sends msg to every peer with a live link.
func (m *Manager) Broadcast(msg []byte) {
	m.BroadcastExcept(protocol.Broadcast, msg)
}

// BroadcastExcept sends msg to every peer with a live link except one.
// Individual send failures are logged and do not stop the fan-out.
func (m *Manager) BroadcastExcept(except PeerID, msg []byte) {
	for _, id := range m.sortedPeers() {
		p := m.peers[id]
		if id == except || !p.linkUp {
			continue
		}
		if err := m.send(p, msg); err != nil {
			util.LogDebug("broadcast to %s: %v", id, err)
		}
	}
}

// Forward relays msg unmodified to target on behalf of another peer.
func (m *Manager) Forward(target PeerID, msg []byte) error {
	return m.SendTo(target, msg)
}

func (m *Manager) send(p *peer, msg []byte) error {
	typ, ok := protocol.TypeOf(msg)
	if !ok {
		return protocol.ErrShortPacket
	}
	if err := p.link.Send(msg, protocol.ReliabilityOf(typ)); err != nil {
		util.Stats.AddDropped()
		return fmt.Errorf("send %s to %s: %w", typ, p.id, err)
	}
	return nil
}
