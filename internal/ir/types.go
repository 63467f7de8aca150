package ir

import (
	"strings"
	"time"
)

// Tier is the urgency classification of a fact.
type Tier string

const (
	// TierS facts need immediate attention.
	TierS Tier = "S"
	// TierA facts are monitored.
	TierA Tier = "A"
	// TierTerminal facts mark lifecycle closure.
	TierTerminal Tier = "TERMINAL"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierS, TierA, TierTerminal:
		return true
	}
	return false
}

// GenesisHash is the PrevHash of the first record in a chain.
const GenesisHash = "genesis"

// ProcessedSuffix marks companion facts recording that a trigger was handled.
const ProcessedSuffix = ".processed"

// Fact is an immutable record of something that happened.
// Tier and Weight are assigned by the classifier before the fact reaches the ledger.
type Fact struct {
	ID             string         `json:"id"`
	OutcomeType    string         `json:"outcome_type"`
	EntityID       string         `json:"entity_id"`
	EntityType     string         `json:"entity_type"`
	Tier           Tier           `json:"tier"`
	Weight         float64        `json:"weight"`
	Metadata       map[string]any `json:"metadata"`
	OccurredAt     time.Time      `json:"occurred_at"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	RuleVersion    string         `json:"rule_version,omitempty"`
}

// Record is a fact as persisted by a ledger store.
// ChainSeq is the record's position in the hash chain; the store enforces its uniqueness.
type Record struct {
	Fact
	ChainSeq  int64     `json:"chain_seq"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is the replay view of a record.
// Sequence is positional over (occurred_at ASC, id ASC), starting at 1.
type Entry struct {
	Fact      Fact      `json:"fact"`
	Sequence  int64     `json:"sequence"`
	ChainSeq  int64     `json:"chain_seq"`
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash"`
}

// ToEntry converts a record into its replay entry at the given position.
func (r Record) ToEntry(sequence int64) Entry {
	return Entry{
		Fact:      r.Fact,
		Sequence:  sequence,
		ChainSeq:  r.ChainSeq,
		CreatedAt: r.CreatedAt,
		Hash:      r.Hash,
		PrevHash:  r.PrevHash,
	}
}

// ToRecord converts an entry back into the stored record shape.
func (e Entry) ToRecord() Record {
	return Record{
		Fact:      e.Fact,
		ChainSeq:  e.ChainSeq,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
		CreatedAt: e.CreatedAt,
	}
}

// ProcessedType returns the companion marker type for an outcome type.
func ProcessedType(outcomeType string) string {
	return outcomeType + ProcessedSuffix
}

// ProcessedBase returns the trigger type of a processed marker.
// ok is false when outcomeType is not a marker.
func ProcessedBase(outcomeType string) (base string, ok bool) {
	if !strings.HasSuffix(outcomeType, ProcessedSuffix) {
		return "", false
	}
	base = strings.TrimSuffix(outcomeType, ProcessedSuffix)
	return base, base != ""
}

// NormalizeTime converts t to UTC and truncates it to microseconds.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
