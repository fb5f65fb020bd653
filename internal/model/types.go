// Package model defines domain types used by the catalog store.
package model

// Source identifies the writer class behind a patch.
type Source string

const (
	// SourceAdmin is the privileged writer class (admin console).
	SourceAdmin Source = "admin"
	// SourceOffline is the unprivileged writer class (offline-capable clients).
	SourceOffline Source = "offline"
	// SourceSystem marks metadata fabricated by the store itself, e.g. when
	// backfilling field_last_modified on documents written by older code.
	SourceSystem Source = "system"
)

// Valid reports whether s is an accepted writer class for incoming patches.
func (s Source) Valid() bool {
	return s == SourceAdmin || s == SourceOffline
}

// Privileged reports whether s wins writer-class precedence.
func (s Source) Privileged() bool { return s == SourceAdmin }

// Resolution reasons recorded on accepted fields and conflicts.
const (
	ReasonClientBaseRevHigher   = "client_base_rev_higher"
	ReasonServerNewerRevision   = "server_has_newer_revision"
	ReasonNewerTimestamp        = "newer_timestamp"
	ReasonOlderTimestamp        = "older_timestamp"
	ReasonStableHashTiebreaker  = "stable_hash_tiebreaker"
	ReasonWriterClassPrecedence = "writer_class_precedence"
	ReasonFieldNotSupported     = "field_not_supported"
)

// FieldMeta is the per-field bookkeeping of who wrote a value, when, at
// which global revision, and under which changeset. Timestamps are epoch
// milliseconds UTC; a zero TS is the backfill sentinel.
type FieldMeta struct {
	TS          int64  `json:"ts"`
	By          string `json:"by"`
	Rev         int64  `json:"rev"`
	BaseRev     int64  `json:"base_rev"`
	ChangesetID string `json:"changeset_id,omitempty"`
}

// CatalogState is the full persisted catalog document. Rev is the
// store-global revision; it only moves forward, and only when a patch
// accepts at least one field.
type CatalogState struct {
	Version     string    `json:"version"`
	LastUpdated int64     `json:"last_updated"`
	Rev         int64     `json:"rev"`
	Products    []Product `json:"products"`
}
