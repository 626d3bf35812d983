// Package lobby is the session directory peers meet through. The Directory
// holds lobbies in memory; Server exposes it over WebSocket; Client and
// LocalClient are the two ways a peer reaches it. Besides membership, the
// lobby relays link signaling between members of the same lobby.
package lobby

import (
	"errors"

	"github.com/1ureka/meshlobby/internal/session"
)

// DefaultMaxMembers caps a lobby when the creator asks for no specific size.
const DefaultMaxMembers = 6

var (
	ErrLobbyFull   = errors.New("lobby is full")
	ErrNoSuchLobby = errors.New("no such lobby")
	ErrNotMember   = errors.New("not a member of the lobby")
	ErrClosed      = errors.New("lobby connection closed")
)

// Well-known lobby data keys.
const (
	KeyName        = "name"
	KeyOwner       = "owner"
	KeyGameVersion = "game_version"
)

// SignalKind identifies a link signaling message.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Signal is one link signaling message relayed between two lobby members.
// Link names the connection attempt so late messages for an abandoned
// attempt can be told apart from the current one.
type Signal struct {
	From      session.PeerID `json:"from"`
	To        session.PeerID `json:"to"`
	Link      string         `json:"link"`
	Kind      SignalKind     `json:"kind"`
	SDP       string         `json:"sdp,omitempty"`
	Candidate string         `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// Endpoint is how the directory reaches one registered peer.
type Endpoint interface {
	session.LobbyListener
	Signal(sig Signal)
}
