package store

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/cortega26/elrincondeebano-sub000/internal/model"
	"github.com/cortega26/elrincondeebano-sub000/internal/validate"
)

// applyPatch is the merge engine. It runs inside the gate.
//
// The mutation is staged on copies of the product, the state header and the
// ledger document; memory is only committed after the durable flush
// succeeds, so a flush failure rolls the whole patch back.
func (s *Store) applyPatch(req model.PatchRequest) (model.PatchResponse, error) {
	if err := checkRequest(req); err != nil {
		return model.PatchResponse{}, err
	}

	// Duplicate changeset: replay the recorded response verbatim, even if
	// the product has drifted since.
	if e, ok := s.ledger.Changesets[req.ChangesetID]; ok {
		return e.Response.Clone(), nil
	}

	idx, ok := s.findProduct(req.ProductID)
	if !ok {
		return model.PatchResponse{}, ErrNotFound
	}
	cur := &s.state.Products[idx]
	baseRev := *req.BaseRev
	ts := req.TS
	if ts == 0 {
		ts = s.now().UTC().UnixMilli()
	}

	// Sanitize everything first: one bad field fails the whole patch with
	// nothing applied. Unknown fields are never sanitized; they fall
	// straight through to a field_not_supported conflict.
	order := validate.SortFields(req.Fields)
	pending := make(map[string]any, len(order))
	conflicts := []model.Conflict{}
	for _, f := range order {
		if !validate.Known(f) {
			conflicts = append(conflicts, model.Conflict{
				Field:       f,
				ClientValue: req.Fields[f],
				Reason:      model.ReasonFieldNotSupported,
			})
			continue
		}
		v, err := validate.Sanitize(f, req.Fields[f], validate.Context{Product: cur, Pending: pending})
		if err != nil {
			var ferr *validate.FieldError
			if errors.As(err, &ferr) {
				return model.PatchResponse{}, &BadRequestError{Reason: ferr.Error(), Err: ferr}
			}
			return model.PatchResponse{}, &BadRequestError{Reason: err.Error(), Err: err}
		}
		pending[f] = v
	}

	// Resolve each field independently against the staged copy.
	work := cur.Clone()
	accepted := []model.AcceptedField{}
	newRev := s.state.Rev + 1
	for _, f := range order {
		v, ok := pending[f]
		if !ok {
			continue
		}
		stored, _ := work.Field(f)
		if stored == v {
			// Structurally equal: neither accepted nor conflicted.
			continue
		}
		meta := work.FieldLastModified[f]
		win, reason := resolveField(baseRev, ts, req.Source, req.ChangesetID, meta)
		if !win {
			conflicts = append(conflicts, model.Conflict{
				Field:       f,
				ServerValue: stored,
				ClientValue: v,
				ResolvedTo:  stored,
				Reason:      reason,
			})
			continue
		}
		if err := work.SetField(f, v); err != nil {
			return model.PatchResponse{}, &BadRequestError{Reason: err.Error(), Err: err}
		}
		work.FieldLastModified[f] = model.FieldMeta{
			TS:          ts,
			By:          string(req.Source),
			Rev:         newRev,
			BaseRev:     baseRev,
			ChangesetID: req.ChangesetID,
		}
		accepted = append(accepted, model.AcceptedField{
			Field:  f,
			Value:  v,
			By:     req.Source,
			TS:     ts,
			Reason: reason,
		})
	}

	// An accepted rename must not make two products resolve to the same
	// identifier; findProduct would silently shadow one of them.
	if newID := work.Identifier(); newID != cur.Identifier() {
		for i := range s.state.Products {
			if i != idx && s.state.Products[i].Identifier() == newID {
				return model.PatchResponse{}, &BadRequestError{
					Reason: fmt.Sprintf("identifier %q is already in use", newID),
				}
			}
		}
	}

	// Stage the new state and ledger; all accepted fields share the single
	// new revision.
	newState := s.state
	newLedger := model.LedgerDoc{
		LatestRev:  s.ledger.LatestRev,
		Changes:    append([]model.ChangeLogEntry(nil), s.ledger.Changes...),
		Changesets: make(map[string]model.ChangesetCacheEntry, len(s.ledger.Changesets)+1),
	}
	for k, v := range s.ledger.Changesets {
		newLedger.Changesets[k] = v
	}

	resp := model.PatchResponse{
		AcceptedFields: accepted,
		Conflicts:      conflicts,
		Rev:            s.state.Rev,
		LastUpdated:    s.state.LastUpdated,
		Version:        s.state.Version,
	}
	if len(accepted) > 0 {
		work.Rev = newRev
		version := versionFromTS(ts)
		resp.Rev = newRev
		resp.LastUpdated = ts
		resp.Version = version

		newState.Products = append([]model.Product(nil), s.state.Products...)
		newState.Products[idx] = work
		newState.Rev = newRev
		newState.LastUpdated = ts
		newState.Version = version

		entry := model.ChangeLogEntry{
			Rev:         newRev,
			TS:          ts,
			ProductID:   work.Identifier(),
			Source:      req.Source,
			ChangesetID: req.ChangesetID,
			Accepted:    accepted,
			Conflicts:   conflicts,
			LastUpdated: ts,
			Version:     version,
			Product:     work.Clone(),
		}
		newLedger.Changes = append(newLedger.Changes, entry)
		newLedger.LatestRev = newRev
		if excess := len(newLedger.Changes) - s.opts.LedgerMax; excess > 0 {
			newLedger.Changes = append([]model.ChangeLogEntry(nil), newLedger.Changes[excess:]...)
		}
	}
	resp.Product = work.Clone()

	// A fully-conflicted or fully-no-op patch is still cached: the retry
	// must see the same answer.
	newLedger.Changesets[req.ChangesetID] = model.ChangesetCacheEntry{
		Rev:      newState.Rev,
		Response: resp.Clone(),
	}
	pruneChangesets(newLedger.Changesets, s.opts.ChangesetMax)

	// Write both documents before renaming either, so a write failure
	// leaves the durable state untouched. If the ledger rename still fails
	// after the catalog went in, the old catalog is written back: the
	// caller sees a persistence error and the rollback must be durable
	// too, not just in memory.
	var catalogDoc *stagedDoc
	if len(accepted) > 0 {
		var err error
		if catalogDoc, err = stageJSON(s.opts.CatalogPath, newState); err != nil {
			return model.PatchResponse{}, &PersistError{Op: "flush catalog", Err: err}
		}
	}
	ledgerDoc, err := stageJSON(s.opts.LedgerPath, newLedger)
	if err != nil {
		if catalogDoc != nil {
			catalogDoc.discard()
		}
		return model.PatchResponse{}, &PersistError{Op: "flush ledger", Err: err}
	}
	if catalogDoc != nil {
		if err := catalogDoc.commit(); err != nil {
			ledgerDoc.discard()
			return model.PatchResponse{}, &PersistError{Op: "flush catalog", Err: err}
		}
	}
	if err := ledgerDoc.commit(); err != nil {
		if len(accepted) > 0 {
			_ = saveJSON(s.opts.CatalogPath, s.state)
		}
		return model.PatchResponse{}, &PersistError{Op: "flush ledger", Err: err}
	}
	s.state = newState
	s.ledger = newLedger
	return resp, nil
}

func checkRequest(req model.PatchRequest) error {
	switch {
	case req.ProductID == "":
		return &BadRequestError{Reason: "product id is required"}
	case req.BaseRev == nil:
		return &BadRequestError{Reason: "base_rev is required"}
	case req.ChangesetID == "":
		return &BadRequestError{Reason: "changeset_id is required"}
	case len(req.Fields) == 0:
		return &BadRequestError{Reason: "fields must not be empty"}
	case !req.Source.Valid():
		return &BadRequestError{Reason: "source must be admin or offline"}
	}
	return nil
}

// resolveField decides one field independently of the others.
//
// Base-revision precedence first; equal base revisions compare timestamps;
// equal timestamps fall to the same-writer stable-hash tiebreak or to
// writer-class precedence (admin beats offline).
func resolveField(baseRev, ts int64, src model.Source, changesetID string, meta model.FieldMeta) (bool, string) {
	if baseRev > meta.Rev {
		return true, model.ReasonClientBaseRevHigher
	}
	if baseRev < meta.Rev {
		return false, model.ReasonServerNewerRevision
	}
	if ts > meta.TS {
		return true, model.ReasonNewerTimestamp
	}
	if ts < meta.TS {
		return false, model.ReasonOlderTimestamp
	}
	if string(src) == meta.By {
		return stableHash(changesetID) > stableHash(meta.ChangesetID), model.ReasonStableHashTiebreaker
	}
	stored := model.Source(meta.By)
	if src.Privileged() && !stored.Privileged() {
		return true, model.ReasonWriterClassPrecedence
	}
	if !src.Privileged() && stored.Privileged() {
		return false, model.ReasonWriterClassPrecedence
	}
	return stableHash(changesetID) > stableHash(meta.ChangesetID), model.ReasonStableHashTiebreaker
}

// stableHash is FNV-1a over the changeset id; it must stay stable across
// runs because it decides merge ties.
func stableHash(changesetID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(changesetID))
	return h.Sum64()
}

// pruneChangesets drops lowest-revision entries first once the cache
// exceeds limit. Ties break on the key so eviction is deterministic.
func pruneChangesets(m map[string]model.ChangesetCacheEntry, limit int) {
	for len(m) > limit {
		var victim string
		first := true
		for k, v := range m {
			if first || v.Rev < m[victim].Rev || (v.Rev == m[victim].Rev && k < victim) {
				victim = k
				first = false
			}
		}
		delete(m, victim)
	}
}

// versionFromTS derives the catalog version deterministically from the
// mutation timestamp.
func versionFromTS(ts int64) string {
	return time.UnixMilli(ts).UTC().Format("20060102T150405.000Z")
}
