// Package protocol defines the wire format shared by every peer in a mesh:
// a fixed 18-byte little-endian header followed by type-specific fields.
package protocol

import "fmt"

// PeerID identifies a participant for its whole lifetime in a session.
type PeerID uint64

// Reserved target values. No real participant may use them.
const (
	Broadcast PeerID = 0 // deliver to every connected peer
	Special   PeerID = 1 // always processed locally
)

// IsReal reports whether id can belong to an actual participant.
func (id PeerID) IsReal() bool { return id > Special }

func (id PeerID) String() string {
	switch id {
	case Broadcast:
		return "broadcast"
	case Special:
		return "special"
	}
	return fmt.Sprintf("%016x", uint64(id))
}

// PacketType selects the payload layout and the handler.
type PacketType uint16

// Packet type constants.
const (
	TypeWorldInitRequest      PacketType = 1
	TypeWorldInitData         PacketType = 2
	TypePlayerDataUpdate      PacketType = 3
	TypeBroadcastMessage      PacketType = 4
	TypeWorldStateSync        PacketType = 5
	TypePlayerDamage          PacketType = 6
	TypePlayerAddForce        PacketType = 7
	TypePlayerDeath           PacketType = 8
	TypePlayerCreateRequest   PacketType = 9
	TypePlayerCreateResponse  PacketType = 10
	TypePlayerTeleportRequest PacketType = 11
	TypePlayerTeleportRespond PacketType = 12
)

// MaxPacketTypes bounds the dispatch table. Types at or above it are rejected.
const MaxPacketTypes = 64

var typeNames = map[PacketType]string{
	TypeWorldInitRequest:      "WorldInitRequest",
	TypeWorldInitData:         "WorldInitData",
	TypePlayerDataUpdate:      "PlayerDataUpdate",
	TypeBroadcastMessage:      "BroadcastMessage",
	TypeWorldStateSync:        "WorldStateSync",
	TypePlayerDamage:          "PlayerDamage",
	TypePlayerAddForce:        "PlayerAddForce",
	TypePlayerDeath:           "PlayerDeath",
	TypePlayerCreateRequest:   "PlayerCreateRequest",
	TypePlayerCreateResponse:  "PlayerCreateResponse",
	TypePlayerTeleportRequest: "PlayerTeleportRequest",
	TypePlayerTeleportRespond: "PlayerTeleportRespond",
}

func (t PacketType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", uint16(t))
}

// Reliability is the delivery class a relay link uses for one message.
type Reliability uint8

const (
	Reliable   Reliability = iota // ordered, retransmitted
	Unreliable                    // unordered, no retransmits
)

func (r Reliability) String() string {
	if r == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// ReliabilityOf returns the delivery class for a packet type. Only the
// continuous pose stream is unreliable; the next tick supersedes a lost one.
func ReliabilityOf(t PacketType) Reliability {
	if t == TypePlayerDataUpdate {
		return Unreliable
	}
	return Reliable
}
