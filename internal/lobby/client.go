package lobby

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/util"
)

// Client reaches a lobby Server over WebSocket. It implements session.Lobby
// and relays link signaling for the transport.
type Client struct {
	conn *websocket.Conn
	self session.PeerID
	out  chan Message

	pmu     sync.Mutex
	pending map[string]chan Message

	listener atomic.Pointer[session.LobbyListener]
	onSignal atomic.Pointer[func(Signal)]

	once sync.Once
	done chan struct{}
	err  atomic.Pointer[error]
}

// Dial connects to a lobby server and waits for it to assign this process a
// peer id.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lobby: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read lobby hello: %w", err)
	}
	if hello.Type != MsgHello || !hello.Peer.IsReal() {
		conn.Close()
		return nil, fmt.Errorf("unexpected lobby greeting %q", hello.Type)
	}

	c := &Client{
		conn:    conn,
		self:    hello.Peer,
		out:     make(chan Message, outboxSize),
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	util.LogDebug("connected to lobby %s as %s", url, c.self)
	return c, nil
}

func (c *Client) Self() session.PeerID { return c.self }

func (c *Client) SetListener(l session.LobbyListener) { c.listener.Store(&l) }

// OnSignal sets the handler for signaling messages from other members.
func (c *Client) OnSignal(fn func(Signal)) { c.onSignal.Store(&fn) }

// Done is closed when the connection to the server is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, once Done is closed.
func (c *Client) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Client) Create(ctx context.Context, name string, maxMembers int, data map[string]string) (session.LobbyInfo, error) {
	res, err := c.request(ctx, Message{Type: MsgCreate, Name: name, Max: maxMembers, Data: data})
	if err != nil {
		return session.LobbyInfo{}, err
	}
	return res.Info.session(), nil
}

func (c *Client) Join(ctx context.Context, id session.LobbyID) (session.LobbyInfo, error) {
	res, err := c.request(ctx, Message{Type: MsgJoin, Lobby: id})
	if err != nil {
		return session.LobbyInfo{}, err
	}
	return res.Info.session(), nil
}

// Leave queues a leave notice for lobby id without waiting for the server.
func (c *Client) Leave(id session.LobbyID) {
	c.enqueue(context.Background(), Message{Type: MsgLeave, Lobby: id})
}

// SendSignal relays sig to another member of the current lobby.
func (c *Client) SendSignal(sig Signal) error {
	sig.From = c.self
	return c.enqueue(context.Background(), Message{Type: MsgSignal, Signal: &sig})
}

// Close ends the connection.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}

func (c *Client) request(ctx context.Context, msg Message) (Message, error) {
	msg.Req = uuid.NewString()
	ch := make(chan Message, 1)

	c.pmu.Lock()
	c.pending[msg.Req] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, msg.Req)
		c.pmu.Unlock()
	}()

	if err := c.enqueue(ctx, msg); err != nil {
		return Message{}, err
	}
	select {
	case res := <-ch:
		if err := errorOf(res.Code, res.Error); err != nil {
			return res, err
		}
		return res, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrClosed
	}
}

func (c *Client) enqueue(ctx context.Context, msg Message) error {
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop() {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail(fmt.Errorf("read lobby message: %w", err))
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(msg)
	}
}

func (c *Client) handle(msg Message) {
	switch msg.Type {
	case MsgResult:
		c.pmu.Lock()
		ch, ok := c.pending[msg.Req]
		c.pmu.Unlock()
		if ok {
			ch <- msg
		}

	case MsgMemberJoined, MsgMemberLeft, MsgOwnerChanged:
		p := c.listener.Load()
		if p == nil {
			return
		}
		l := *p
		switch msg.Type {
		case MsgMemberJoined:
			l.MemberJoined(msg.Lobby, msg.Peer)
		case MsgMemberLeft:
			l.MemberLeft(msg.Lobby, msg.Peer)
		default:
			l.OwnerChanged(msg.Lobby, msg.Peer)
		}

	case MsgSignal:
		if p := c.onSignal.Load(); p != nil && msg.Signal != nil {
			(*p)(*msg.Signal)
		}

	default:
		util.LogDebug("ignoring lobby message %q", msg.Type)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.fail(fmt.Errorf("write lobby message: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.once.Do(func() {
		c.err.Store(&err)
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.conn.Close()
	})
}
