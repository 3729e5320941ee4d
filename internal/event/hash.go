package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hash computation. The version suffix enables future
// algorithm migration without colliding with old hashes.
const (
	DomainState = "fieldledger/state/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateHash computes the canonical hash of an inventory state rendered as
// a map of "product|location|lot" keys to decimal quantity strings.
//
// Devices store this hash as OfflineContext.BaseStateHash; the server
// recomputes it at validation time to distinguish a conflict (device acted
// on stale state) from a plain validation failure.
func StateHash(entries map[string]string) (string, error) {
	canonical, err := marshalCanonicalMap(entries)
	if err != nil {
		return "", fmt.Errorf("state hash: marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// MustStateHash is like StateHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStateHash(entries map[string]string) string {
	h, err := StateHash(entries)
	if err != nil {
		panic(err)
	}
	return h
}
