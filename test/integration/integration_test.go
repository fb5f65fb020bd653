package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortega26/elrincondeebano-sub000/internal/config"
	"github.com/cortega26/elrincondeebano-sub000/internal/gate"
	httpapi "github.com/cortega26/elrincondeebano-sub000/internal/http"
	"github.com/cortega26/elrincondeebano-sub000/internal/model"
	"github.com/cortega26/elrincondeebano-sub000/internal/obs"
	"github.com/cortega26/elrincondeebano-sub000/internal/store"
)

// startServer wires the full stack against a temp-dir catalog seeded with
// the given products and serves it over an in-process listener.
func startServer(t *testing.T, products []model.Product) *httptest.Server {
	t.Helper()
	obs.InitLogger("json")
	dir := t.TempDir()
	cfg := config.Config{
		ShutdownTimeout:   5 * time.Second,
		CatalogPath:       filepath.Join(dir, "catalog.json"),
		LedgerPath:        filepath.Join(dir, "ledger.json"),
		LedgerMax:         2000,
		ChangesetCacheMax: 200,
		GateQueueCap:      256,
		MaxBodyBytes:      64 * 1024,
	}
	seed := model.CatalogState{Products: products}
	b, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := os.WriteFile(cfg.CatalogPath, b, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	g := gate.New(cfg.GateQueueCap)
	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	st := store.New(store.Options{
		CatalogPath:  cfg.CatalogPath,
		LedgerPath:   cfg.LedgerPath,
		LedgerMax:    cfg.LedgerMax,
		ChangesetMax: cfg.ChangesetCacheMax,
	}, g)
	app := httpapi.NewApp(cfg, st, g)
	srv := httptest.NewServer(httpapi.NewRouter(app))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

// tryPatch is safe to call from helper goroutines.
func tryPatch(base, id, body string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodPatch, base+"/products/"+id, bytes.NewBufferString(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, b, nil
}

func patch(t *testing.T, base, id, body string) (*http.Response, []byte) {
	t.Helper()
	resp, b, err := tryPatch(base, id, body)
	if err != nil {
		t.Fatalf("patch %s: %v", id, err)
	}
	return resp, b
}

func TestIntegration_TwoWritersConflictAndFeed(t *testing.T) {
	srv := startServer(t, []model.Product{{ID: "w1", Name: "Agua", Price: 1000}})

	// Offline writer lands first.
	resp, body := patch(t, srv.URL, "w1",
		`{"base_rev":0,"changeset_id":"off-1","source":"offline","ts":10000,"fields":{"price":1200}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("offline patch: %d %s", resp.StatusCode, body)
	}

	// Admin branched from the same base: price now conflicts, name applies.
	resp, body = patch(t, srv.URL, "w1",
		`{"base_rev":0,"changeset_id":"adm-1","source":"admin","ts":9000,"fields":{"price":1500,"name":"Agua Premium"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin patch: %d %s", resp.StatusCode, body)
	}
	var pr model.PatchResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pr.Conflicts) != 1 || pr.Conflicts[0].Field != "price" {
		t.Fatalf("expected price conflict: %+v", pr)
	}
	if pr.Conflicts[0].Reason != model.ReasonServerNewerRevision {
		t.Fatalf("unexpected reason %s", pr.Conflicts[0].Reason)
	}
	if len(pr.AcceptedFields) != 1 || pr.AcceptedFields[0].Field != "name" {
		t.Fatalf("expected name accepted: %+v", pr)
	}
	if pr.Rev != 2 {
		t.Fatalf("expected rev 2, got %d", pr.Rev)
	}

	// A lagging reader replays both mutations from the feed.
	fr, err := http.Get(srv.URL + "/changes?since_rev=0")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer fr.Body.Close()
	var feed model.ChangesSince
	if err := json.NewDecoder(fr.Body).Decode(&feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if feed.ToRev != 2 || len(feed.Changes) != 2 {
		t.Fatalf("unexpected feed: %+v", feed)
	}
	last := feed.Changes[1]
	if last.Product.Name != "Agua Premium" || last.Product.Price != 1200 {
		t.Fatalf("snapshot must show merged state: %+v", last.Product)
	}
}

func TestIntegration_IdempotentReplayBytes(t *testing.T) {
	srv := startServer(t, []model.Product{{ID: "w1", Name: "Agua", Price: 1000}})
	body := `{"base_rev":0,"changeset_id":"c1","source":"offline","ts":10000,"fields":{"price":1200}}`

	resp, first := patch(t, srv.URL, "w1", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first: %d", resp.StatusCode)
	}
	// Unrelated changeset drifts the product in between.
	resp, _ = patch(t, srv.URL, "w1",
		`{"base_rev":1,"changeset_id":"c2","source":"offline","ts":20000,"fields":{"price":1800}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("drift: %d", resp.StatusCode)
	}
	resp, replay := patch(t, srv.URL, "w1", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay: %d", resp.StatusCode)
	}
	if !bytes.Equal(first, replay) {
		t.Fatalf("replay must be byte-identical:\n%s\n%s", first, replay)
	}
}

func TestIntegration_ValidationFailureLeavesNoTrace(t *testing.T) {
	srv := startServer(t, []model.Product{{ID: "w1", Name: "Agua", Price: 1000}})

	resp, _ := patch(t, srv.URL, "w1",
		`{"base_rev":0,"changeset_id":"bad-1","source":"offline","ts":10000,"fields":{"price":1200,"discount":99999}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	gr, err := http.Get(srv.URL + "/products/w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer gr.Body.Close()
	var p model.Product
	if err := json.NewDecoder(gr.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Price != 1000 || p.Rev != 0 {
		t.Fatalf("validation failure must not mutate: %+v", p)
	}
	fr, err := http.Get(srv.URL + "/changes?since_rev=0")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	defer fr.Body.Close()
	var feed model.ChangesSince
	if err := json.NewDecoder(fr.Body).Decode(&feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if len(feed.Changes) != 0 {
		t.Fatalf("expected empty feed, got %d", len(feed.Changes))
	}
}

func TestIntegration_StateSurvivesRestart(t *testing.T) {
	obs.InitLogger("json")
	dir := t.TempDir()
	opts := store.Options{
		CatalogPath: filepath.Join(dir, "catalog.json"),
		LedgerPath:  filepath.Join(dir, "ledger.json"),
	}
	seed := model.CatalogState{Products: []model.Product{{ID: "w1", Name: "Agua", Price: 1000}}}
	b, _ := json.Marshal(seed)
	if err := os.WriteFile(opts.CatalogPath, b, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boot := func() (*store.Store, context.CancelFunc) {
		g := gate.New(64)
		ctx, cancel := context.WithCancel(context.Background())
		g.Start(ctx)
		return store.New(opts, g), cancel
	}

	s1, stop1 := boot()
	base := int64(0)
	req := model.PatchRequest{
		ProductID:   "w1",
		BaseRev:     &base,
		ChangesetID: "c1",
		Source:      model.SourceOffline,
		TS:          10_000,
		Fields:      map[string]any{"price": 1200.0},
	}
	first, err := s1.ApplyPatch(context.Background(), req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	stop1()

	// A fresh instance over the same documents sees the mutation and the
	// idempotency cache.
	s2, stop2 := boot()
	defer stop2()
	p, err := s2.Get(context.Background(), "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Price != 1200 || p.Rev != 1 {
		t.Fatalf("state lost across restart: %+v", p)
	}
	replay, err := s2.ApplyPatch(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	j := func(v any) string { out, _ := json.Marshal(v); return string(out) }
	if j(first) != j(replay) {
		t.Fatalf("idempotency cache lost across restart")
	}
}

func seedProducts(n int) []model.Product {
	ps := make([]model.Product, 0, n)
	for i := 0; i < n; i++ {
		ps = append(ps, model.Product{ID: fmt.Sprintf("w-%d", i), Name: fmt.Sprintf("P%d", i), Price: 1000})
	}
	return ps
}
