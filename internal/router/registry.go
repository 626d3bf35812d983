// Package router decides what happens to every inbound message: forward it to
// another peer, relay a broadcast, or dispatch it to a local handler.
package router

import (
	"errors"
	"fmt"

	"github.com/1ureka/meshlobby/internal/protocol"
	"github.com/1ureka/meshlobby/internal/util"
)

var (
	ErrTypeOutOfRange = errors.New("packet type out of range")
	ErrUnknownType    = errors.New("no handler for packet type")
	ErrHandlerPanic   = errors.New("handler panicked")
	ErrMalformed      = errors.New("malformed payload")
)

// Handler processes one message addressed to this peer. r is positioned at
// the first payload byte; a handler that leaves r in error causes the
// message to be reported as malformed.
type Handler func(sender protocol.PeerID, r *protocol.Reader)

type registration struct {
	typ protocol.PacketType
	fn  Handler
}

// Registry collects handler registrations at startup.
type Registry struct {
	entries []registration
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers fn for typ. Registering a type twice keeps the later handler.
func (r *Registry) Add(typ protocol.PacketType, fn Handler) *Registry {
	r.entries = append(r.entries, registration{typ: typ, fn: fn})
	return r
}

// Table is the immutable dispatch table produced by Registry.Build.
type Table struct {
	handlers [protocol.MaxPacketTypes]Handler
}

// Build validates every registration and produces the dispatch table.
func (r *Registry) Build() (*Table, error) {
	t := &Table{}
	for _, e := range r.entries {
		if int(e.typ) >= protocol.MaxPacketTypes {
			return nil, fmt.Errorf("register %s: %w (max %d)", e.typ, ErrTypeOutOfRange, protocol.MaxPacketTypes-1)
		}
		if e.fn == nil {
			return nil, fmt.Errorf("register %s: nil handler", e.typ)
		}
		if t.handlers[e.typ] != nil {
			util.LogWarning("handler for %s registered twice, keeping the later one", e.typ)
		}
		t.handlers[e.typ] = e.fn
	}
	return t, nil
}

// Lookup returns the handler for typ, bounds-checked.
func (t *Table) Lookup(typ protocol.PacketType) (Handler, error) {
	if int(typ) >= len(t.handlers) {
		return nil, fmt.Errorf("%w: %s", ErrTypeOutOfRange, typ)
	}
	fn := t.handlers[typ]
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return fn, nil
}

// Len reports how many packet types have a handler.
func (t *Table) Len() int {
	n := 0
	for _, fn := range t.handlers {
		if fn != nil {
			n++
		}
	}
	return n
}
