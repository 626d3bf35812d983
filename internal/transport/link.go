package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshlobby/internal/lobby"
	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/util"
)

// link is one PeerConnection to a remote member. It implements
// session.Link. Its lifecycle is governed by the DataChannels: it is up once
// both channels open and down as soon as either closes.
type link struct {
	t        *Transport
	id       string
	peer     session.PeerID
	outbound bool

	pc         *webrtc.PeerConnection
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel
	sender     *sender

	ctx        context.Context
	cancel     context.CancelFunc
	openSignal chan struct{}
	described  chan struct{} // closed once the offer or answer is sent
	opened     atomic.Int32
	up         atomic.Bool

	mu        sync.Mutex
	closed    bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit

}

var _ session.Link = (*link)(nil)

func newLink(t *Transport, id string, peer session.PeerID, outbound bool) (*link, error) {
	pc, err := newPeerConnection(t.cfg.STUNServers)
	if err != nil {
		return nil, err
	}
	reliable, unreliable, err := newChannels(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(t.ctx)
	l := &link{
		t:          t,
		id:         id,
		peer:       peer,
		outbound:   outbound,
		pc:         pc,
		reliable:   reliable,
		unreliable: unreliable,
		ctx:        ctx,
		cancel:     cancel,
		openSignal: make(chan struct{}),
		described:  make(chan struct{}),
	}
	l.sender = newSender(ctx, reliable, l.openSignal, t.cfg)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		// the remote side has no link to attach a candidate to before the offer
		select {
		case <-l.described:
		case <-l.ctx.Done():
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		// best effort: a lost candidate only narrows the paths ICE can try
		if err := l.signal(lobby.SignalCandidate, "", string(data)); err != nil {
			util.LogDebug("send candidate to %s: %v", peer, err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("link %s to %s: %s", id, peer, state)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			l.Close()
		}
	})

	for _, dc := range []*webrtc.DataChannel{reliable, unreliable} {
		dc.OnOpen(l.channelOpen)
		dc.OnClose(func() { l.Close() })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			util.Stats.AddRecv(len(msg.Data))
			if ln := t.currentListener(); ln != nil {
				ln.Message(peer, msg.Data)
			}
		})
	}
	return l, nil
}

func (l *link) Peer() session.PeerID { return l.peer }
func (l *link) Outbound() bool       { return l.outbound }

// Send picks the channel by delivery class. Unreliable messages bypass the
// queue and are dropped when the channel is congested.
func (l *link) Send(msg []byte, class protocol.Reliability) error {
	if !l.up.Load() {
		return ErrLinkClosed
	}
	if class == protocol.Reliable {
		return l.sender.send(msg)
	}
	if l.unreliable.BufferedAmount() > l.t.cfg.HighWaterMark {
		util.Stats.AddDropped()
		return nil
	}
	if err := l.unreliable.Send(msg); err != nil {
		return err
	}
	util.Stats.AddSent(len(msg))
	return nil
}

// Close tears the link down. A link that was up reports LinkDown once.
func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.t.forget(l.id)
	err := errors.Join(l.reliable.Close(), l.unreliable.Close(), l.pc.Close())

	if l.up.Swap(false) {
		util.Stats.RemoveLink()
		if ln := l.t.currentListener(); ln != nil {
			ln.LinkDown(l)
		}
	}
	return err
}

func (l *link) channelOpen() {
	if l.opened.Add(1) != 2 {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	close(l.openSignal)
	l.up.Store(true)
	l.mu.Unlock()

	util.Stats.AddLink()
	if ln := l.t.currentListener(); ln != nil {
		ln.LinkUp(l)
	}
}

// describe sends the local offer or answer and releases held candidates.
func (l *link) describe(kind lobby.SignalKind, sdp string) error {
	err := l.signal(kind, sdp, "")
	if err == nil {
		close(l.described)
	}
	return err
}

func (l *link) signal(kind lobby.SignalKind, sdp, candidate string) error {
	return l.t.sig.SendSignal(lobby.Signal{
		To:        l.peer,
		Link:      l.id,
		Kind:      kind,
		SDP:       sdp,
		Candidate: candidate,
	})
}

// setRemote applies the remote description and flushes candidates that
// arrived before it.
func (l *link) setRemote(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			util.LogDebug("AddICECandidate: %v", err)
		}
	}
	return nil
}

func (l *link) addCandidate(c webrtc.ICECandidateInit) {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	if err := l.pc.AddICECandidate(c); err != nil {
		util.LogDebug("AddICECandidate: %v", err)
	}
}
