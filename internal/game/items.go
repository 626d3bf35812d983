package game

import (
	"strings"

	"github.com/1ureka/meshlobby/internal/protocol"
)

// SetDifference returns what minuend holds beyond subtrahend: keys missing
// from subtrahend keep their count, shared keys keep the positive surplus.
func SetDifference(minuend, subtrahend map[string]uint8) map[string]uint8 {
	out := make(map[string]uint8, len(minuend))
	for k, m := range minuend {
		s, ok := subtrahend[k]
		switch {
		case !ok:
			out[k] = m
		case m > s:
			out[k] = m - s
		}
	}
	return out
}

// MatchSuffix returns the ids whose printed form ends with suffix.
func MatchSuffix(ids []protocol.PeerID, suffix string) []protocol.PeerID {
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	if suffix == "" {
		return nil
	}
	var out []protocol.PeerID
	for _, id := range ids {
		if strings.HasSuffix(id.String(), suffix) {
			out = append(out, id)
		}
	}
	return out
}
