package transport

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshlobby/internal/util"
)

// ErrQueueFull is returned when a link's reliable send queue is full.
var ErrQueueFull = errors.New("send queue full")

// sender is a goroutine-based writer that serializes all reliable writes to
// a single DataChannel, adding open-gate and backpressure control.
type sender struct {
	inbox       chan []byte
	drainSignal chan struct{}
	highWater   uint64
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}, cfg Config) *sender {
	s := &sender{
		inbox:       make(chan []byte, cfg.SendBuffer),
		drainSignal: make(chan struct{}, 1),
		highWater:   cfg.HighWaterMark,
	}

	dc.SetBufferedAmountLowThreshold(cfg.LowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop waits for the DataChannel to open, then drains the inbox with
// backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case msg := <-s.inbox:
			if dc.BufferedAmount() > s.highWater {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(msg); err != nil {
				util.LogError("failed to send %d bytes on %s: %v", len(msg), dc.Label(), err)
				return
			}
			util.Stats.AddSent(len(msg))
		case <-ctx.Done():
			return
		}
	}
}

// send queues a copy of msg. It never blocks: the tick goroutine calls it.
func (s *sender) send(msg []byte) error {
	buf := make([]byte, len(msg))
	copy(buf, msg)
	select {
	case s.inbox <- buf:
		return nil
	default:
		util.Stats.AddDropped()
		return ErrQueueFull
	}
}
