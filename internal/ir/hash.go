package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCommandKey = "protoengine/command-key/v1"
	DomainSnapshot   = "protoengine/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommandKey computes the semantic key of a protocol command from the key of
// the protocol command before it, its kind, and its params. Re-running the
// same protocol yields the same chain of keys, which lets retries and resumes
// be correlated across runs independent of command IDs.
func CommandKey(prevKey string, kind CommandKind, params Params) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"prev":         prevKey,
		"command_type": string(kind),
		"params":       params,
	})
	if err != nil {
		return "", fmt.Errorf("CommandKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCommandKey, canonical), nil
}

// SnapshotHash returns the canonical hash of any JSON-encodable state value.
// Two runs whose derived state is identical produce the same hash.
func SnapshotHash(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustSnapshotHash is like SnapshotHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotHash(v any) string {
	h, err := SnapshotHash(v)
	if err != nil {
		panic(err)
	}
	return h
}
