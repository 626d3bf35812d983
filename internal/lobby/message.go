package lobby

import (
	"errors"

	"github.com/1ureka/meshlobby/internal/session"
)

// MessageType identifies a lobby protocol message.
type MessageType string

const (
	MsgHello        MessageType = "hello"  // server → client: assigned peer id
	MsgCreate       MessageType = "create" // client → server requests
	MsgJoin         MessageType = "join"
	MsgLeave        MessageType = "leave"
	MsgResult       MessageType = "result" // server → client reply to a request
	MsgMemberJoined MessageType = "member_joined"
	MsgMemberLeft   MessageType = "member_left"
	MsgOwnerChanged MessageType = "owner_changed"
	MsgSignal       MessageType = "signal" // relayed both ways
)

// Message is the JSON structure exchanged over the lobby WebSocket.
type Message struct {
	Type   MessageType       `json:"type"`
	Req    string            `json:"req,omitempty"` // request id, echoed in the result
	Peer   session.PeerID    `json:"peer,omitempty"`
	Lobby  session.LobbyID   `json:"lobby,omitempty"`
	Name   string            `json:"name,omitempty"`
	Max    int               `json:"max,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
	Info   *Info             `json:"info,omitempty"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error,omitempty"`
	Signal *Signal           `json:"signal,omitempty"`
}

// Info is the wire form of session.LobbyInfo.
type Info struct {
	ID         session.LobbyID   `json:"id"`
	Name       string            `json:"name"`
	Owner      session.PeerID    `json:"owner"`
	MaxMembers int               `json:"max_members"`
	Members    []session.PeerID  `json:"members"`
	Data       map[string]string `json:"data,omitempty"`
}

func infoFrom(i session.LobbyInfo) *Info {
	return &Info{ID: i.ID, Name: i.Name, Owner: i.Owner, MaxMembers: i.MaxMembers, Members: i.Members, Data: i.Data}
}

func (i *Info) session() session.LobbyInfo {
	if i == nil {
		return session.LobbyInfo{}
	}
	return session.LobbyInfo{ID: i.ID, Name: i.Name, Owner: i.Owner, MaxMembers: i.MaxMembers, Members: i.Members, Data: i.Data}
}

// Error codes carried in results.
const (
	codeFull      = "lobby_full"
	codeNoSuch    = "no_such_lobby"
	codeNotMember = "not_member"
	codeBadReq    = "bad_request"
)

func codeOf(err error) string {
	switch {
	case errors.Is(err, ErrLobbyFull):
		return codeFull
	case errors.Is(err, ErrNoSuchLobby):
		return codeNoSuch
	case errors.Is(err, ErrNotMember):
		return codeNotMember
	}
	return codeBadReq
}

func errorOf(code, text string) error {
	switch code {
	case "":
		return nil
	case codeFull:
		return ErrLobbyFull
	case codeNoSuch:
		return ErrNoSuchLobby
	case codeNotMember:
		return ErrNotMember
	}
	return errors.New(text)
}
