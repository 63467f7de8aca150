package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for chain hashing.
// Version suffix enables future algorithm migration.
const (
	DomainFact = "ledgerline/fact/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + part[0] + 0x00 + part[1] ...)
// The null byte (0x00) separator prevents boundary ambiguity between parts.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// hashObject is the canonical projection of a fact used for hashing.
// Metadata is always an object so nil and empty maps hash identically.
func hashObject(f Fact, chainSeq int64) map[string]any {
	meta := f.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":              f.ID,
		"outcome_type":    f.OutcomeType,
		"entity_id":       f.EntityID,
		"entity_type":     f.EntityType,
		"tier":            string(f.Tier),
		"weight":          f.Weight,
		"metadata":        meta,
		"occurred_at":     NormalizeTime(f.OccurredAt).Format(time.RFC3339Nano),
		"idempotency_key": f.IdempotencyKey,
		"rule_version":    f.RuleVersion,
		"chain_seq":       chainSeq,
	}
}

// FactHash computes the chain hash of a fact at chain position chainSeq,
// linked to prevHash. Returns error if the fact cannot be canonically marshaled
// (for example NaN weights or unsupported metadata values).
func FactHash(f Fact, chainSeq int64, prevHash string) (string, error) {
	canonical, err := MarshalCanonical(hashObject(f, chainSeq))
	if err != nil {
		return "", fmt.Errorf("FactHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFact, canonical, []byte(prevHash)), nil
}

// RecordHash recomputes the hash a record should carry.
func RecordHash(r Record) (string, error) {
	return FactHash(r.Fact, r.ChainSeq, r.PrevHash)
}

// MustFactHash is like FactHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFactHash(f Fact, chainSeq int64, prevHash string) string {
	h, err := FactHash(f, chainSeq, prevHash)
	if err != nil {
		panic(err)
	}
	return h
}
