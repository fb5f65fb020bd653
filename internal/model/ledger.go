package model

import deep "github.com/brunoga/deep/v2"

// ChangeLogEntry is one accepted patch in the append-only change ledger.
// The Product snapshot is the full post-mutation record so lagging readers
// can reconstruct state without re-deriving the merge decision.
type ChangeLogEntry struct {
	Rev         int64           `json:"rev"`
	TS          int64           `json:"ts"`
	ProductID   string          `json:"product_id"`
	Source      Source          `json:"source"`
	ChangesetID string          `json:"changeset_id"`
	Accepted    []AcceptedField `json:"accepted"`
	Conflicts   []Conflict      `json:"conflicts"`
	LastUpdated int64           `json:"last_updated"`
	Version     string          `json:"version"`
	Product     Product         `json:"product"`
}

// Clone returns a deep copy of the entry.
func (e ChangeLogEntry) Clone() ChangeLogEntry {
	return deep.MustCopy(e)
}

// ChangesetCacheEntry is a previously computed patch response, replayed
// verbatim on duplicate submissions of the same changeset id. Rev is the
// global revision at the time the entry was recorded and drives
// oldest-first eviction.
type ChangesetCacheEntry struct {
	Rev      int64         `json:"rev"`
	Response PatchResponse `json:"response"`
}

// LedgerDoc is the persisted ledger document: the change log plus the
// idempotency cache.
type LedgerDoc struct {
	LatestRev  int64                          `json:"latest_rev"`
	Changes    []ChangeLogEntry               `json:"changes"`
	Changesets map[string]ChangesetCacheEntry `json:"changesets"`
}

// ChangesSince is the incremental feed payload for readers that last saw
// revision FromRev.
type ChangesSince struct {
	FromRev int64            `json:"from_rev"`
	ToRev   int64            `json:"to_rev"`
	Changes []ChangeLogEntry `json:"changes"`
}
