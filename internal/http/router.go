package httpapi

import (
	"expvar"
	"net/http"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/products", app.listProductsHandler)
	mux.HandleFunc("/products/", app.productsHandler)
	mux.HandleFunc("/changes", app.changesHandler)
	mux.HandleFunc("/healthz", app.healthHandler)
	mux.HandleFunc("/debug/metrics", app.metricsHandler)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/openapi.yaml", app.openapiHandler)
	mux.HandleFunc("/docs", app.docsHandler)
	var h http.Handler = mux
	if app.limiter != nil {
		h = WithRateLimit(app.limiter, h)
	}
	return WithRequestID(WithLogging(h))
}
