// Package store implements the field-level optimistic-merge catalog store:
// per-field last-writer-wins resolution under revision-based concurrency
// control, idempotent retries, and a bounded change ledger.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cortega26/elrincondeebano-sub000/internal/gate"
	"github.com/cortega26/elrincondeebano-sub000/internal/model"
)

// Options configures one store instance. The two file paths are exclusively
// owned by the instance; nothing else may write them.
type Options struct {
	CatalogPath  string
	LedgerPath   string
	LedgerMax    int
	ChangesetMax int
}

// Store owns the in-memory catalog state and its two durable documents.
// Every operation runs through the serialized access gate, so there is one
// logical writer and reads never observe a half-applied patch.
type Store struct {
	g    *gate.Gate
	opts Options
	now  func() time.Time

	loaded bool
	state  model.CatalogState
	ledger model.LedgerDoc
}

// New constructs a Store. The gate must already be started by the caller.
func New(opts Options, g *gate.Gate) *Store {
	if opts.LedgerMax <= 0 {
		opts.LedgerMax = 2000
	}
	if opts.ChangesetMax <= 0 {
		opts.ChangesetMax = 200
	}
	return &Store{g: g, opts: opts, now: time.Now}
}

// ApplyPatch runs one optimistic-merge attempt. Partial conflicts are a
// success: rejected fields come back as conflict records alongside the
// accepted ones.
func (s *Store) ApplyPatch(ctx context.Context, req model.PatchRequest) (model.PatchResponse, error) {
	var resp model.PatchResponse
	var err error
	if gerr := s.g.Do(ctx, func() {
		if err = s.ensureLoaded(); err != nil {
			return
		}
		resp, err = s.applyPatch(req)
	}); gerr != nil {
		return model.PatchResponse{}, gerr
	}
	return resp, err
}

// Get returns a deep copy of one product.
func (s *Store) Get(ctx context.Context, id string) (model.Product, error) {
	var p model.Product
	var err error
	if gerr := s.g.Do(ctx, func() {
		if err = s.ensureLoaded(); err != nil {
			return
		}
		i, ok := s.findProduct(id)
		if !ok {
			err = ErrNotFound
			return
		}
		p = s.state.Products[i].Clone()
	}); gerr != nil {
		return model.Product{}, gerr
	}
	return p, err
}

// List returns deep copies of all products in catalog order.
func (s *Store) List(ctx context.Context) ([]model.Product, error) {
	var out []model.Product
	var err error
	if gerr := s.g.Do(ctx, func() {
		if err = s.ensureLoaded(); err != nil {
			return
		}
		out = make([]model.Product, 0, len(s.state.Products))
		for i := range s.state.Products {
			out = append(out, s.state.Products[i].Clone())
		}
	}); gerr != nil {
		return nil, gerr
	}
	return out, err
}

// ChangesSince returns every ledger entry with rev > sinceRev, newest last.
func (s *Store) ChangesSince(ctx context.Context, sinceRev int64) (model.ChangesSince, error) {
	var out model.ChangesSince
	var err error
	if gerr := s.g.Do(ctx, func() {
		if err = s.ensureLoaded(); err != nil {
			return
		}
		out = model.ChangesSince{
			FromRev: sinceRev,
			ToRev:   s.state.Rev,
			Changes: []model.ChangeLogEntry{},
		}
		for i := range s.ledger.Changes {
			if s.ledger.Changes[i].Rev > sinceRev {
				out.Changes = append(out.Changes, s.ledger.Changes[i].Clone())
			}
		}
	}); gerr != nil {
		return model.ChangesSince{}, gerr
	}
	return out, err
}

// Rev returns the current global revision.
func (s *Store) Rev(ctx context.Context) (int64, error) {
	var rev int64
	var err error
	if gerr := s.g.Do(ctx, func() {
		if err = s.ensureLoaded(); err != nil {
			return
		}
		rev = s.state.Rev
	}); gerr != nil {
		return 0, gerr
	}
	return rev, err
}

// ensureLoaded lazily reads both documents on the first gated operation.
// Absent files bootstrap empty skeletons written back immediately.
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	var st model.CatalogState
	found, err := loadJSON(s.opts.CatalogPath, &st)
	if err != nil {
		return &PersistError{Op: "load catalog", Err: err}
	}
	if !found {
		st = model.CatalogState{Products: []model.Product{}}
		if err := saveJSON(s.opts.CatalogPath, st); err != nil {
			return &PersistError{Op: "bootstrap catalog", Err: err}
		}
	}
	var lg model.LedgerDoc
	found, err = loadJSON(s.opts.LedgerPath, &lg)
	if err != nil {
		return &PersistError{Op: "load ledger", Err: err}
	}
	if !found {
		lg = model.LedgerDoc{Changes: []model.ChangeLogEntry{}, Changesets: map[string]model.ChangesetCacheEntry{}}
		if err := saveJSON(s.opts.LedgerPath, lg); err != nil {
			return &PersistError{Op: "bootstrap ledger", Err: err}
		}
	}
	if lg.Changes == nil {
		lg.Changes = []model.ChangeLogEntry{}
	}
	if lg.Changesets == nil {
		lg.Changesets = map[string]model.ChangesetCacheEntry{}
	}
	backfill(&st)
	if err := checkIdentifiers(&st); err != nil {
		return err
	}
	s.state = st
	s.ledger = lg
	s.loaded = true
	return nil
}

// backfill fabricates field_last_modified entries missing from documents
// written by older code: epoch-zero timestamp, system writer, current rev.
func backfill(st *model.CatalogState) {
	for i := range st.Products {
		p := &st.Products[i]
		if p.FieldLastModified == nil {
			p.FieldLastModified = make(map[string]model.FieldMeta, len(model.MutableFields))
		}
		if p.Extra == nil {
			p.Extra = map[string]any{}
		}
		for _, f := range model.MutableFields {
			if _, ok := p.FieldLastModified[f]; !ok {
				p.FieldLastModified[f] = model.FieldMeta{By: string(model.SourceSystem), Rev: st.Rev}
			}
		}
	}
}

// checkIdentifiers enforces identity uniqueness across the active set.
func checkIdentifiers(st *model.CatalogState) error {
	seen := make(map[string]struct{}, len(st.Products))
	for i := range st.Products {
		id := st.Products[i].Identifier()
		if id == "" {
			return fmt.Errorf("product at index %d has no identifier", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate product identifier %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// findProduct matches by computed identifier at call time.
func (s *Store) findProduct(id string) (int, bool) {
	for i := range s.state.Products {
		if s.state.Products[i].Identifier() == id {
			return i, true
		}
	}
	return 0, false
}
