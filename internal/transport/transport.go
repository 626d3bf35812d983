// Package transport carries relay links over WebRTC. Each link is one
// PeerConnection with a reliable and an unreliable DataChannel; offers,
// answers and ICE candidates travel through the lobby.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshlobby/internal/lobby"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/util"
)

var (
	ErrClosed     = errors.New("transport closed")
	ErrLinkClosed = errors.New("link closed")
)

// Signaler relays link signaling to other lobby members.
type Signaler interface {
	Self() session.PeerID
	SendSignal(sig lobby.Signal) error
	OnSignal(fn func(lobby.Signal))
}

// Config tunes the WebRTC links.
type Config struct {
	STUNServers   []string
	HighWaterMark uint64 // pause reliable sends when bufferedAmount exceeds this
	LowWaterMark  uint64 // resume reliable sends when bufferedAmount drops below this
	SendBuffer    int    // queued reliable messages per link
}

// DefaultConfig uses public STUN servers. No TURN: links are direct P2P.
func DefaultConfig() Config {
	return Config{
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		HighWaterMark: 256 * 1024,
		LowWaterMark:  64 * 1024,
		SendBuffer:    256,
	}
}

// Transport implements session.Transport on WebRTC.
type Transport struct {
	cfg Config
	sig Signaler

	ctx    context.Context
	cancel context.CancelFunc

	listener atomic.Pointer[session.TransportListener]

	mu     sync.Mutex
	links  map[string]*link
	closed bool
}

var _ session.Transport = (*Transport)(nil)

// New creates a transport that signals through sig. It takes over sig's
// signal handler.
func New(ctx context.Context, cfg Config, sig Signaler) *Transport {
	tctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		cfg:    cfg,
		sig:    sig,
		ctx:    tctx,
		cancel: cancel,
		links:  make(map[string]*link),
	}
	sig.OnSignal(t.onSignal)
	return t
}

func (t *Transport) SetListener(l session.TransportListener) { t.listener.Store(&l) }

func (t *Transport) currentListener() session.TransportListener {
	if p := t.listener.Load(); p != nil {
		return *p
	}
	return nil
}

// Dial starts an outbound link to peer and sends the offer.
func (t *Transport) Dial(peer session.PeerID) (session.Link, error) {
	l, err := t.newLink(uuid.NewString(), peer, true)
	if err != nil {
		return nil, err
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.Close()
		return nil, fmt.Errorf("SetLocalDescription: %w", err)
	}
	if err := l.describe(lobby.SignalOffer, offer.SDP); err != nil {
		l.Close()
		return nil, fmt.Errorf("send offer to %s: %w", peer, err)
	}
	util.LogDebug("offer sent to %s (link %s)", peer, l.id)
	return l, nil
}

// Close shuts every link down.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	var errs []error
	for _, l := range links {
		errs = append(errs, l.Close())
	}
	t.cancel()
	return errors.Join(errs...)
}

func (t *Transport) newLink(id string, peer session.PeerID, outbound bool) (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	l, err := newLink(t, id, peer, outbound)
	if err != nil {
		return nil, err
	}
	t.links[id] = l
	return l, nil
}

func (t *Transport) lookup(id string) *link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[id]
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.links, id)
}

// onSignal runs on the signaler's goroutine.
func (t *Transport) onSignal(sig lobby.Signal) {
	switch sig.Kind {
	case lobby.SignalOffer:
		t.accept(sig)

	case lobby.SignalAnswer:
		l := t.lookup(sig.Link)
		if l == nil || l.peer != sig.From {
			util.LogDebug("answer for unknown link %s from %s", sig.Link, sig.From)
			return
		}
		if err := l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
			util.LogWarning("apply answer from %s: %v", sig.From, err)
			l.Close()
		}

	case lobby.SignalCandidate:
		l := t.lookup(sig.Link)
		if l == nil || l.peer != sig.From {
			return
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(sig.Candidate), &init); err != nil {
			util.LogDebug("bad ICE candidate from %s: %v", sig.From, err)
			return
		}
		l.addCandidate(init)
	}
}

func (t *Transport) accept(sig lobby.Signal) {
	if t.lookup(sig.Link) != nil {
		return
	}
	l, err := t.newLink(sig.Link, sig.From, false)
	if err != nil {
		util.LogDebug("refusing link from %s: %v", sig.From, err)
		return
	}

	err = l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP})
	if err == nil {
		var answer webrtc.SessionDescription
		answer, err = l.pc.CreateAnswer(nil)
		if err == nil {
			err = l.pc.SetLocalDescription(answer)
		}
		if err == nil {
			err = l.describe(lobby.SignalAnswer, answer.SDP)
		}
	}
	if err != nil {
		util.LogWarning("answer link from %s: %v", sig.From, err)
		l.Close()
		return
	}
	util.LogDebug("answered %s (link %s)", sig.From, l.id)
}
