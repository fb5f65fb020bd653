package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cortega26/elrincondeebano-sub000/internal/config"
	"github.com/cortega26/elrincondeebano-sub000/internal/gate"
	httpopenapi "github.com/cortega26/elrincondeebano-sub000/internal/http/openapi"
	"github.com/cortega26/elrincondeebano-sub000/internal/model"
	"github.com/cortega26/elrincondeebano-sub000/internal/obs"
	"github.com/cortega26/elrincondeebano-sub000/internal/store"
)

// App wires the HTTP handlers to the store and the gate.
type App struct {
	Cfg     config.Config
	Store   *store.Store
	Gate    *gate.Gate
	limiter *limiter
	closing bool
	started time.Time
}

func NewApp(cfg config.Config, st *store.Store, g *gate.Gate) *App {
	a := &App{Cfg: cfg, Store: st, Gate: g, started: time.Now()}
	if cfg.RateLimitRPS > 0 {
		a.limiter = newLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return a
}

// StartShutdown closes the gate intake; in-flight operations drain.
func (a *App) StartShutdown() {
	a.closing = true
	a.Gate.CloseIntake()
}

// patchBody is the wire shape of a patch request. base_rev may instead
// arrive in an If-Match header.
type patchBody struct {
	BaseRev     *int64         `json:"base_rev"`
	ChangesetID string         `json:"changeset_id"`
	Source      model.Source   `json:"source"`
	TS          int64          `json:"ts"`
	Fields      map[string]any `json:"fields"`
}

func (a *App) productsHandler(w http.ResponseWriter, r *http.Request) {
	prefix := "/products/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getProduct(w, r, id)
	case http.MethodPatch:
		a.patchProduct(w, r, id)
	default:
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	}
}

func (a *App) getProduct(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.Store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

func (a *App) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	ps, err := a.Store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ps)
}

func (a *App) patchProduct(w http.ResponseWriter, r *http.Request, id string) {
	if a.closing || a.Gate.IsShuttingDown() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	if !a.authorize(w, r) {
		return
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return
	}
	var body patchBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.Cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "")
			return
		}
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if body.BaseRev == nil {
		if v := strings.Trim(r.Header.Get("If-Match"), `"`); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				body.BaseRev = &n
			}
		}
	}
	req := model.PatchRequest{
		ProductID:   id,
		BaseRev:     body.BaseRev,
		ChangesetID: body.ChangesetID,
		Source:      body.Source,
		TS:          body.TS,
		Fields:      body.Fields,
	}
	resp, err := a.Store.ApplyPatch(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	obs.Logger.Info("patch_applied",
		"request_id", RequestIDFromContext(r.Context()),
		"product_id", id,
		"changeset_id", req.ChangesetID,
		"source", req.Source,
		"rev", resp.Rev,
		"accepted", len(resp.AcceptedFields),
		"conflicts", len(resp.Conflicts),
	)
}

// authorize enforces the optional bearer-token gate on mutating requests.
// Enabled without a secret is a misconfiguration, not an auth failure.
func (a *App) authorize(w http.ResponseWriter, r *http.Request) bool {
	if !a.Cfg.AuthEnabled {
		return true
	}
	if a.Cfg.AuthToken == "" {
		WriteJSONError(w, http.StatusServiceUnavailable, "auth_misconfigured", "")
		return false
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.Cfg.AuthToken)) != 1 {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "")
		return false
	}
	return true
}

func (a *App) changesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	sinceRev := int64(0)
	if v := r.URL.Query().Get("since_rev"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "since_rev must be a non-negative integer")
			return
		}
		sinceRev = n
	}
	out, err := a.Store.ChangesSince(r.Context(), sinceRev)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	submitted, completed, depth := a.Gate.Metrics()
	m := map[string]any{
		"ops_submitted": submitted,
		"ops_completed": completed,
		"gate_depth":    depth,
		"uptime_sec":    time.Since(a.started).Seconds(),
	}
	if rev, err := a.Store.Rev(r.Context()); err == nil {
		m["rev"] = rev
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m)
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`
	_, _ = w.Write([]byte(html))
}
