package transport

import (
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers.
func newPeerConnection(stun []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(stun) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stun}}
	}
	return webrtc.NewPeerConnection(config)
}

// Negotiated channel ids. Both sides create the channels independently, so
// neither waits on OnDataChannel.
const (
	reliableID   uint16 = 0
	unreliableID uint16 = 1
)

// newChannels creates the two pre-negotiated DataChannels every link
// carries: an ordered, retransmitted one and an unordered one without
// retransmits for traffic that the next message supersedes.
func newChannels(pc *webrtc.PeerConnection) (reliable, unreliable *webrtc.DataChannel, err error) {
	negotiated := true
	ordered := true
	id := reliableID
	reliable, err = pc.CreateDataChannel("reliable", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, nil, err
	}

	unordered := false
	var retransmits uint16
	uid := unreliableID
	unreliable, err = pc.CreateDataChannel("unreliable", &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &uid,
	})
	if err != nil {
		reliable.Close()
		return nil, nil, err
	}
	return reliable, unreliable, nil
}
