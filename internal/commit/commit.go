// Package commit implements the commit-reveal scheme that proves a round's
// secret answer was fixed before any guess was accepted. The commitment
// hash is published when the round starts; salt and answer are revealed at
// resolution so anyone can recompute the hash and check it.
package commit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SaltBytes is the size of the random salt in raw bytes. The salt is
// handled as a hex string everywhere outside this package.
const SaltBytes = 32

// Errors returned by commitment operations. A hash mismatch on reveal is a
// correctness-critical condition and must never be conflated with a missing
// round.
var (
	ErrEmptyAnswer  = errors.New("answer must not be empty")
	ErrNegativeSeed = errors.New("seed must not be negative")
	ErrMismatch     = errors.New("commitment does not match revealed salt and answer")
)

// Commitment is the result of starting a round: the hash to publish
// immediately and the salt to keep confidential until resolution.
type Commitment struct {
	Hash string
	Salt string
}

// StartRound generates a random salt and the commitment hash for the given
// answer. The answer is case-folded before hashing so reveal verification
// is insensitive to how the caller stored it. The seed carries no secret
// and is only validated for non-negativity.
func StartRound(answer string, seed int64) (*Commitment, error) {
	answer = Normalize(answer)
	if answer == "" {
		return nil, ErrEmptyAnswer
	}
	if seed < 0 {
		return nil, ErrNegativeSeed
	}

	raw := make([]byte, SaltBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)

	return &Commitment{
		Hash: Hash(salt, answer),
		Salt: salt,
	}, nil
}

// Hash computes hex(SHA-256(salt || answer)) over the hex salt string and
// the case-folded answer.
func Hash(salt, answer string) string {
	h := sha256.Sum256([]byte(salt + Normalize(answer)))
	return hex.EncodeToString(h[:])
}

// VerifyReveal recomputes the commitment from the revealed salt and answer
// and compares it to the published hash in constant time.
func VerifyReveal(commitment, salt, answer string) bool {
	recomputed := Hash(salt, answer)
	return subtle.ConstantTimeCompare([]byte(recomputed), []byte(commitment)) == 1
}

// Normalize case-folds an answer the same way the guess endpoint does, so
// commitments and reveals agree on the plaintext.
func Normalize(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// Ledger is the append-only publish/verify capability the commitment is
// written to. The hashing contract, not the storage medium, is the
// invariant: a chain, a signed log or a plain table all satisfy it.
type Ledger interface {
	// Publish records the commitment for a round before guesses open.
	Publish(ctx context.Context, roundNumber int64, commitment string) error
	// Verify checks a revealed (salt, answer) pair against the published
	// commitment for the round.
	Verify(ctx context.Context, roundNumber int64, salt, answer string) (bool, error)
}
