package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/link counter.
var Stats = &stats{}

type stats struct {
	LinksOpened atomic.Int64 // cumulative count of relay links that came up
	LinksClosed atomic.Int64 // cumulative count of relay links that went down
	BytesSent   atomic.Int64 // cumulative bytes handed to relay links
	BytesRecv   atomic.Int64 // cumulative bytes received from relay links
	Forwarded   atomic.Int64 // messages relayed on behalf of another peer
	Dropped     atomic.Int64 // messages dropped (protocol or transport errors)
}

func (s *stats) AddLink()      { s.LinksOpened.Add(1) }
func (s *stats) RemoveLink()   { s.LinksClosed.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddForwarded() { s.Forwarded.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs mesh statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevOpened, prevClosed, prevDropped int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.LinksOpened.Load()
				closed := Stats.LinksClosed.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				dropped := Stats.Dropped.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				upC := opened - prevOpened
				downC := closed - prevClosed

				if upC > 0 || downC > 0 || inS > 10 || outS > 10 || dropped > prevDropped {
					pterm.DefaultLogger.Info(formatStats(inS, outS, upC, downC, dropped-prevDropped))
				}

				prevSent = sent
				prevRecv = recv
				prevOpened = opened
				prevClosed = closed
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, upC, downC, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Links: %2d↑ %2d↓ | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		upC,
		downC,
		dropped,
	)
}
