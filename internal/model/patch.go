package model

import deep "github.com/brunoga/deep/v2"

// PatchRequest is one optimistic-merge attempt against a single product.
// BaseRev is a pointer so a missing value is distinguishable from zero.
// TS is the writer's timestamp in epoch milliseconds; zero means "stamp at
// receipt".
type PatchRequest struct {
	ProductID   string         `json:"-"`
	BaseRev     *int64         `json:"base_rev"`
	ChangesetID string         `json:"changeset_id"`
	Source      Source         `json:"source"`
	TS          int64          `json:"ts,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// AcceptedField records one field the merge engine applied.
type AcceptedField struct {
	Field  string `json:"field"`
	Value  any    `json:"value"`
	By     Source `json:"by"`
	TS     int64  `json:"ts"`
	Reason string `json:"reason"`
}

// Conflict records one field the merge engine rejected. The stored value
// always wins a conflict, so ResolvedTo mirrors ServerValue.
type Conflict struct {
	Field       string `json:"field"`
	ServerValue any    `json:"server_value"`
	ClientValue any    `json:"client_value"`
	ResolvedTo  any    `json:"resolved_to"`
	Reason      string `json:"reason"`
}

// PatchResponse is the merge result returned to the writer and replayed
// verbatim on duplicate changesets.
type PatchResponse struct {
	Product        Product         `json:"product"`
	Rev            int64           `json:"rev"`
	AcceptedFields []AcceptedField `json:"accepted_fields"`
	Conflicts      []Conflict      `json:"conflicts"`
	LastUpdated    int64           `json:"last_updated"`
	Version        string          `json:"version"`
}

// Clone returns a deep copy so cached responses cannot be mutated by
// callers.
func (r PatchResponse) Clone() PatchResponse {
	return deep.MustCopy(r)
}
