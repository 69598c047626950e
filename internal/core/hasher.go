package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "ReserveBank:genesis:v1"

// StateHasher chains a SHA-256 over every applied operation.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes the chain at the seed hash.
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// Tip returns the current chain tip.
func (h *StateHasher) Tip() [32]byte {
	return h.prevHash
}

// Reset moves the chain tip, used when restoring from stored state.
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}
