// Package memnet is an in-process relay network. Every Node implements
// session.Transport, links deliver synchronously, and the Network exposes
// fault injection for tests and local simulation.
package memnet

import (
	"errors"
	"sync"

	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/util"
)

var (
	ErrClosed     = errors.New("memnet: link closed")
	ErrNodeClosed = errors.New("memnet: node closed")
)

type pair struct{ a, b protocol.PeerID }

func keyOf(a, b protocol.PeerID) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

// Network connects the nodes created from it.
type Network struct {
	mu      sync.Mutex
	nodes   map[protocol.PeerID]*Node
	blocked map[pair]bool
	pipes   map[*pipe]struct{}
	dials   map[pair]int
}

func NewNetwork() *Network {
	return &Network{
		nodes:   make(map[protocol.PeerID]*Node),
		blocked: make(map[pair]bool),
		pipes:   make(map[*pipe]struct{}),
		dials:   make(map[pair]int),
	}
}

// Node returns the transport for id, creating it on first use.
func (n *Network) Node(id protocol.PeerID) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if node, ok := n.nodes[id]; ok {
		return node
	}
	node := &Node{net: n, id: id}
	n.nodes[id] = node
	return node
}

// Block makes dials between a and b hang without ever coming up.
func (n *Network) Block(a, b protocol.PeerID, blocked bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked[keyOf(a, b)] = blocked
}

// Drop closes every live link between a and b and reports how many it closed.
func (n *Network) Drop(a, b protocol.PeerID) int {
	var victims []*pipe
	n.mu.Lock()
	for p := range n.pipes {
		if keyOf(p.dialer.owner.id, p.dialer.remote) == keyOf(a, b) {
			victims = append(victims, p)
		}
	}
	n.mu.Unlock()

	for _, p := range victims {
		p.close()
	}
	return len(victims)
}

// LiveLinks counts open links between a and b.
func (n *Network) LiveLinks(a, b protocol.PeerID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for p := range n.pipes {
		if p.up && keyOf(p.dialer.owner.id, p.dialer.remote) == keyOf(a, b) {
			count++
		}
	}
	return count
}

// Dials reports how many dials were issued between a and b in either direction.
func (n *Network) Dials(a, b protocol.PeerID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials[keyOf(a, b)]
}

// Node is one participant's view of the network.
type Node struct {
	net *Network
	id  protocol.PeerID

	mu       sync.Mutex
	listener session.TransportListener
	closed   bool
}

var _ session.Transport = (*Node)(nil)

func (nd *Node) SetListener(l session.TransportListener) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.listener = l
}

func (nd *Node) currentListener() session.TransportListener {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if nd.closed {
		return nil
	}
	return nd.listener
}

// Dial opens a link to peer. The link comes up immediately unless peer is
// unknown, closed or blocked, in which case it stays pending forever.
func (nd *Node) Dial(peer protocol.PeerID) (session.Link, error) {
	nd.mu.Lock()
	closed := nd.closed
	nd.mu.Unlock()
	if closed {
		return nil, ErrNodeClosed
	}

	p := &pipe{}
	p.dialer = &end{pipe: p, owner: nd, remote: peer, outbound: true}

	n := nd.net
	n.mu.Lock()
	n.dials[keyOf(nd.id, peer)]++
	n.pipes[p] = struct{}{}
	target := n.nodes[peer]
	reachable := target != nil && !n.blocked[keyOf(nd.id, peer)]
	if reachable {
		p.acceptor = &end{pipe: p, owner: target, remote: nd.id}
		p.up = true
	}
	n.mu.Unlock()

	if reachable {
		if l := target.currentListener(); l != nil {
			l.LinkUp(p.acceptor)
		}
		if l := nd.currentListener(); l != nil {
			l.LinkUp(p.dialer)
		}
		util.Stats.AddLink()
	}
	return p.dialer, nil
}

// Close closes every link touching this node.
func (nd *Node) Close() error {
	nd.mu.Lock()
	nd.closed = true
	nd.mu.Unlock()

	var mine []*pipe
	n := nd.net
	n.mu.Lock()
	for p := range n.pipes {
		if p.dialer.owner == nd || (p.acceptor != nil && p.acceptor.owner == nd) {
			mine = append(mine, p)
		}
	}
	n.mu.Unlock()

	for _, p := range mine {
		p.close()
	}
	return nil
}

type pipe struct {
	dialer   *end
	acceptor *end // nil while pending
	up       bool
	closed   bool
}

func (p *pipe) close() {
	n := p.dialer.owner.net
	n.mu.Lock()
	if p.closed {
		n.mu.Unlock()
		return
	}
	p.closed = true
	wasUp := p.up
	p.up = false
	delete(n.pipes, p)
	n.mu.Unlock()

	if !wasUp {
		return
	}
	util.Stats.RemoveLink()
	for _, e := range []*end{p.dialer, p.acceptor} {
		if l := e.owner.currentListener(); l != nil {
			l.LinkDown(e)
		}
	}
}

func (p *pipe) other(e *end) *end {
	if e == p.dialer {
		return p.acceptor
	}
	return p.dialer
}

// end is one side of a pipe and implements session.Link.
type end struct {
	pipe     *pipe
	owner    *Node
	remote   protocol.PeerID
	outbound bool
}

func (e *end) Peer() protocol.PeerID { return e.remote }
func (e *end) Outbound() bool        { return e.outbound }

func (e *end) Close() error {
	e.pipe.close()
	return nil
}

// Send delivers msg to the other end synchronously. Both delivery classes
// behave the same in memory.
func (e *end) Send(msg []byte, _ protocol.Reliability) error {
	n := e.owner.net
	n.mu.Lock()
	up := e.pipe.up
	n.mu.Unlock()
	if !up {
		return ErrClosed
	}

	util.Stats.AddSent(len(msg))
	if l := e.pipe.other(e).owner.currentListener(); l != nil {
		l.Message(e.owner.id, msg)
		util.Stats.AddRecv(len(msg))
	}
	return nil
}
