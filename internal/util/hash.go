// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
)

// Digest computes a 64-bit FNV-1a hash of a raw message. It is used to
// recognize duplicate copies of the same broadcast and is not reversible.
func Digest(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
