package protocol

import "github.com/1ureka/meshlobby/internal/geom"

// PlayerSnapshot is one timestamped pose sample of a participant.
type PlayerSnapshot struct {
	EntityID   PeerID
	Timestamp  int64 // unix milliseconds at the sender
	Position   geom.Vec3
	Rotation   geom.Quat
	LeftHand   geom.Vec3
	RightHand  geom.Vec3
	IsTeleport bool
}

// SnapshotSize is the encoded payload size of a PlayerSnapshot.
const SnapshotSize = 8 + 8 + 3*4 + 4*4 + 3*4 + 3*4 + 1

// Encode appends s in wire order.
func (s *PlayerSnapshot) Encode(w *Writer) {
	w.PutU64(uint64(s.EntityID))
	w.PutI64(s.Timestamp)
	w.PutVec3(s.Position)
	w.PutQuat(s.Rotation)
	w.PutVec3(s.LeftHand)
	w.PutVec3(s.RightHand)
	w.PutBool(s.IsTeleport)
}

// DecodeSnapshot reads a PlayerSnapshot from r.
func DecodeSnapshot(r *Reader) (PlayerSnapshot, error) {
	s := PlayerSnapshot{
		EntityID:  PeerID(r.U64()),
		Timestamp: r.I64(),
		Position:  r.Vec3(),
		Rotation:  r.Quat(),
		LeftHand:  r.Vec3(),
		RightHand: r.Vec3(),
	}
	s.IsTeleport = r.Bool()
	if err := r.Err(); err != nil {
		return PlayerSnapshot{}, err
	}
	return s, nil
}
