package lobby

import (
	"context"
	"sync/atomic"

	"github.com/1ureka/meshlobby/internal/session"
)

// LocalClient reaches a Directory in the same process. It behaves like
// Client without a network in between.
type LocalClient struct {
	dir  *Directory
	self session.PeerID

	listener atomic.Pointer[session.LobbyListener]
	onSignal atomic.Pointer[func(Signal)]
}

func NewLocalClient(dir *Directory) *LocalClient {
	c := &LocalClient{dir: dir}
	c.self = dir.Register(c)
	return c
}

func (c *LocalClient) Self() session.PeerID { return c.self }

func (c *LocalClient) SetListener(l session.LobbyListener) { c.listener.Store(&l) }

func (c *LocalClient) OnSignal(fn func(Signal)) { c.onSignal.Store(&fn) }

func (c *LocalClient) Create(ctx context.Context, name string, maxMembers int, data map[string]string) (session.LobbyInfo, error) {
	if err := ctx.Err(); err != nil {
		return session.LobbyInfo{}, err
	}
	return c.dir.Create(c.self, name, maxMembers, data)
}

func (c *LocalClient) Join(ctx context.Context, id session.LobbyID) (session.LobbyInfo, error) {
	if err := ctx.Err(); err != nil {
		return session.LobbyInfo{}, err
	}
	return c.dir.Join(c.self, id)
}

func (c *LocalClient) Leave(id session.LobbyID) { c.dir.LeaveLobby(c.self, id) }

func (c *LocalClient) SendSignal(sig Signal) error {
	sig.From = c.self
	return c.dir.Relay(sig)
}

// Close unregisters the client from the directory.
func (c *LocalClient) Close() error {
	c.dir.Unregister(c.self)
	return nil
}

func (c *LocalClient) MemberJoined(lobby session.LobbyID, peer session.PeerID) {
	if p := c.listener.Load(); p != nil {
		(*p).MemberJoined(lobby, peer)
	}
}

func (c *LocalClient) MemberLeft(lobby session.LobbyID, peer session.PeerID) {
	if p := c.listener.Load(); p != nil {
		(*p).MemberLeft(lobby, peer)
	}
}

func (c *LocalClient) OwnerChanged(lobby session.LobbyID, owner session.PeerID) {
	if p := c.listener.Load(); p != nil {
		(*p).OwnerChanged(lobby, owner)
	}
}

func (c *LocalClient) Signal(sig Signal) {
	if p := c.onSignal.Load(); p != nil {
		(*p)(sig)
	}
}
