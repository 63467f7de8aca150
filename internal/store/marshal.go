package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/ledgerline/internal/ir"
)

// marshalMetadata converts fact metadata to JSON TEXT for storage.
// Uses json.Encoder with HTML escaping disabled so stored text matches
// what the chain hash was computed over.
func marshalMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalMetadata parses stored JSON TEXT into fact metadata.
// Returns an empty map (not nil) for empty objects.
func unmarshalMetadata(data string) (map[string]any, error) {
	meta := map[string]any{}
	if data == "" || data == "{}" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

// toMicros converts t to integer microseconds since the Unix epoch.
func toMicros(t time.Time) int64 {
	return ir.NormalizeTime(t).UnixMicro()
}

// fromMicros converts stored microseconds back into a UTC time.
func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// cloneRecord returns a deep-enough copy of rec for in-process stores:
// metadata is round-tripped through JSON exactly as a SQL store would.
func cloneRecord(rec ir.Record) (ir.Record, error) {
	text, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return ir.Record{}, err
	}
	meta, err := unmarshalMetadata(text)
	if err != nil {
		return ir.Record{}, err
	}
	out := rec
	out.Metadata = meta
	out.OccurredAt = ir.NormalizeTime(rec.OccurredAt)
	out.CreatedAt = ir.NormalizeTime(rec.CreatedAt)
	return out, nil
}
