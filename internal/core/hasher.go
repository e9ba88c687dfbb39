package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PerpLiquidator:genesis:v1"

// StateHasher chains a hash over every emitted envelope
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// Next computes state_hash[N] = SHA-256(prev_hash || sequence || digest),
// advances the chain and returns (new, previous).
func (h *StateHasher) Next(sequence int64, digest []byte) (hash, prev [32]byte) {
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))

	hasher := sha256.New()
	hasher.Write(h.prevHash[:])
	hasher.Write(seqBuf[:])
	hasher.Write(digest)

	prev = h.prevHash
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash

	return hash, prev
}

// Tip returns the current chain tip
func (h *StateHasher) Tip() [32]byte {
	return h.prevHash
}

// Reset moves the chain tip (used for snapshot restore)
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}
