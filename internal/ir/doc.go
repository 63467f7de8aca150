// Package ir provides the shared record types and hashing primitives for ledgerline.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// fact representation the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Facts are immutable once appended; nothing in this package mutates a stored fact
//   - All JSON tags use snake_case
//   - Timestamps are UTC with microsecond precision so every store round-trips them exactly
//   - Chain hashes use RFC 8785 canonical JSON and SHA-256 with domain separation, never a fallback
package ir
