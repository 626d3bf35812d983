// Package session owns lobby membership and the per-peer relay links of the
// local participant. All state is mutated from the tick goroutine; transport
// and lobby callbacks only enqueue work for the next Update.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/1ureka/meshlobby/internal/protocol"
)

type PeerID = protocol.PeerID

// LobbyID identifies a session in the lobby service.
type LobbyID uint64

var (
	ErrNotInSession = errors.New("not in a session")
	ErrBusy         = errors.New("a create or join is already in progress")
	ErrInSession    = errors.New("already in a session")
	ErrUnknownPeer  = errors.New("no relay link to peer")
)

// State is the lifecycle of the local session.
type State int

const (
	NotJoined State = iota
	Joining
	Joined
	JoinError
)

func (s State) String() string {
	switch s {
	case Joining:
		return "Joining"
	case Joined:
		return "Joined"
	case JoinError:
		return "JoinError"
	}
	return "NotJoined"
}

// ConnState is the lifecycle of one peer's relay link.
type ConnState int

const (
	ConnNone ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "Connecting"
	case ConnConnected:
		return "Connected"
	case ConnDisconnected:
		return "Disconnected"
	}
	return "None"
}

// LobbyInfo describes a session as reported by the lobby service.
type LobbyInfo struct {
	ID         LobbyID
	Name       string
	Owner      PeerID
	MaxMembers int
	Members    []PeerID
	Data       map[string]string
}

// LobbyListener receives membership changes. Methods may be called from any
// goroutine.
type LobbyListener interface {
	MemberJoined(lobby LobbyID, peer PeerID)
	MemberLeft(lobby LobbyID, peer PeerID)
	OwnerChanged(lobby LobbyID, owner PeerID)
}

// Lobby is the session directory the manager creates, joins and leaves
// sessions through.
type Lobby interface {
	// Self returns the id the lobby service assigned to this process.
	Self() PeerID
	Create(ctx context.Context, name string, maxMembers int, data map[string]string) (LobbyInfo, error)
	Join(ctx context.Context, id LobbyID) (LobbyInfo, error)
	// Leave announces departure from session id, or from whatever session
	// is current when id is zero. Nothing happens if id is no longer the
	// current session. It must not block.
	Leave(id LobbyID)
	SetListener(l LobbyListener)
}

// Link is one relay connection to a remote peer.
type Link interface {
	Peer() PeerID
	// Outbound reports whether this process dialed the link.
	Outbound() bool
	Send(msg []byte, class protocol.Reliability) error
	Close() error
}

// TransportListener receives relay link events. Methods may be called from
// any goroutine; data passed to Message is only valid during the call.
type TransportListener interface {
	LinkUp(link Link)
	LinkDown(link Link)
	Message(from PeerID, data []byte)
}

// Transport is the relay primitive. Dial starts an attempt and returns
// immediately; LinkUp reports when the link can carry traffic.
type Transport interface {
	SetListener(l TransportListener)
	Dial(peer PeerID) (Link, error)
	Close() error
}

// Dispatcher consumes inbound messages on the tick goroutine.
type Dispatcher interface {
	Route(from PeerID, msg []byte) error
}

// EventKind classifies a manager notification.
type EventKind int

const (
	PeerConnected EventKind = iota
	PeerDisconnected
	OwnerChanged
)

// Reason explains a PeerDisconnected event.
type Reason int

const (
	ReasonLeft Reason = iota
	ReasonLost
	ReasonSessionEnded
)

func (r Reason) String() string {
	switch r {
	case ReasonLost:
		return "lost"
	case ReasonSessionEnded:
		return "session ended"
	}
	return "left"
}

// Event is delivered to subscribers on the tick goroutine.
type Event struct {
	Kind        EventKind
	Peer        PeerID
	Reason      Reason
	Reconnected bool // PeerConnected after a transient drop
}

// Config holds connection timing. See DefaultConfig for the shipped values.
type Config struct {
	InitialDelay   time.Duration // before the first attempt toward a new member
	ReconnectDelay time.Duration // before re-attempting after a drop
	AcceptWindow   time.Duration // how long the larger id waits for an inbound link
	RetryInterval  time.Duration // per-attempt wait for a dialed link
	VerifyDelay    time.Duration // a link must stay up this long to count
	MaxAttempts    int
	DrainBatch     int // inbound messages processed per Update
	LobbyTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:   200 * time.Millisecond,
		ReconnectDelay: 1500 * time.Millisecond,
		AcceptWindow:   10 * time.Second,
		RetryInterval:  3 * time.Second,
		VerifyDelay:    time.Second,
		MaxAttempts:    3,
		DrainBatch:     50,
		LobbyTimeout:   10 * time.Second,
	}
}

// IsInitiator reports whether self must dial peer. The smaller id always
// dials so both sides agree without negotiation.
func IsInitiator(self, peer PeerID) bool {
	return self < peer
}
