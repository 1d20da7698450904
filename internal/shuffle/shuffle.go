// Package shuffle derives the deck order and hole-card keys for a hand from
// the players' commit-reveal secrets. Everything here is a pure function of
// its inputs so the chain replays deterministically.
package shuffle

import (
	"crypto/sha256"
	"encoding/binary"
)

const (
	// CommitSize is the exact commit digest length (sha256 output).
	CommitSize = 32

	// Secrets are caller-chosen raw bytes within these bounds.
	MinSecretSize = 16
	MaxSecretSize = 32

	DeckSize = 52

	cardKeyDomain = "riverchain/v1/card-key"
	seedDomain    = "riverchain/v1/deck-seed"
)

// CommitDigest returns the digest a player must submit during the commit
// phase for a given secret.
func CommitDigest(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// ValidSecretSize reports whether a revealed secret has a legal length.
func ValidSecretSize(secret []byte) bool {
	return len(secret) >= MinSecretSize && len(secret) <= MaxSecretSize
}

// DeriveSeed mixes every revealed secret with the hand's fixed phase
// deadlines and the block height at which the last reveal landed. The height
// is unknowable at commit time and the secrets bind every player, so no
// single party (dealer included) can bias the result.
func DeriveSeed(secrets [][]byte, commitDeadline, revealDeadline int64, blockHeight uint64) [32]byte {
	h := sha256.New()
	h.Write([]byte(seedDomain))
	for _, s := range secrets {
		h.Write(s)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(commitDeadline))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(revealDeadline))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], blockHeight)
	h.Write(buf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Permutation expands seed into a full deck order via Fisher-Yates over a
// running hash state: each step re-digests the state and reduces its first 8
// bytes (big-endian) modulo the remaining prefix length. Uniform assuming
// sha256 behaves as a PRF; no floating point anywhere.
func Permutation(seed [32]byte) []uint8 {
	deck := make([]uint8, DeckSize)
	for i := range deck {
		deck[i] = uint8(i)
	}
	stream := seed
	for n := DeckSize; n >= 2; n-- {
		stream = sha256.Sum256(stream[:])
		j := binary.BigEndian.Uint64(stream[:8]) % uint64(n)
		deck[n-1], deck[j] = deck[j], deck[n-1]
	}
	return deck
}

// CardKey derives the symmetric key protecting one player's hole cards.
// Domain-separated from the seed derivation and bound to the seat so two
// seats never share a keystream even with equal secrets.
func CardKey(secret []byte, seatIdx uint8) [32]byte {
	h := sha256.New()
	h.Write(secret)
	h.Write([]byte(cardKeyDomain))
	h.Write([]byte{seatIdx})

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Crypt XORs data against the cycled key stream. Self-inverse: applying it
// twice with the same key returns the input.
func Crypt(data []byte, key [32]byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
