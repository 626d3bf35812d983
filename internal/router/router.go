package router

import (
	"fmt"

	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/util"
)

// Relay is the outbound side of the mesh as seen by the router.
type Relay interface {
	// Self returns this process's id in the current session.
	Self() protocol.PeerID
	// Forward sends msg unmodified to target's relay link.
	Forward(target protocol.PeerID, msg []byte) error
	// BroadcastExcept sends msg unmodified to every connected peer but one.
	BroadcastExcept(except protocol.PeerID, msg []byte)
}

// Options tunes broadcast relaying.
type Options struct {
	// RelayBroadcast re-sends broadcasts received straight from their
	// originator to every other connected peer.
	RelayBroadcast bool
	// DedupeWindow is how many recent broadcast deliveries are remembered to
	// drop relayed copies of them. Copies straight from the originator are
	// never dropped as duplicates. Zero disables duplicate suppression.
	DedupeWindow int
}

// Router is driven from the tick goroutine only.
type Router struct {
	table *Table
	relay Relay
	opts  Options
	seen  *digestRing
}

func New(table *Table, relay Relay, opts Options) *Router {
	r := &Router{table: table, relay: relay, opts: opts}
	if opts.DedupeWindow > 0 {
		r.seen = newDigestRing(opts.DedupeWindow)
	}
	return r
}

// Route handles one inbound message that arrived on from's relay link.
// A non-nil error means the message was dropped.
func (r *Router) Route(from protocol.PeerID, msg []byte) error {
	h, err := protocol.PeekHeader(msg)
	if err != nil {
		return err
	}

	self := r.relay.Self()
	if h.Target != self && h.Target != protocol.Broadcast && h.Target != protocol.Special {
		util.Stats.AddForwarded()
		if err := r.relay.Forward(h.Target, msg); err != nil {
			return fmt.Errorf("forward %s from %s to %s: %w", h.Type, h.Sender, h.Target, err)
		}
		return nil
	}

	if h.Target == protocol.Broadcast && h.Sender != self {
		direct := from == h.Sender
		if r.seen != nil && !r.admit(util.Digest(msg), direct) {
			util.LogDebug("dropping duplicate %s broadcast from %s via %s", h.Type, h.Sender, from)
			return nil
		}
		if r.opts.RelayBroadcast && direct {
			r.relay.BroadcastExcept(h.Sender, msg)
		}
	}

	return r.dispatch(h, msg)
}

func (r *Router) admit(digest uint64, direct bool) bool {
	if direct {
		return r.seen.direct(digest)
	}
	return r.seen.relayed(digest)
}

// dispatch runs the local handler. A panicking handler is contained here so
// the drain loop and the borrowed buffer are unaffected.
func (r *Router) dispatch(h protocol.Header, msg []byte) (err error) {
	fn, err := r.table.Lookup(h.Type)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s from %s: %v", ErrHandlerPanic, h.Type, h.Sender, p)
		}
	}()

	rd := protocol.NewReader(msg)
	fn(h.Sender, rd)
	if rd.Err() != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrMalformed, h.Type, h.Sender, rd.Err())
	}
	return nil
}
