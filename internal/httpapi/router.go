// v1
// internal/httpapi/router.go
package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/Rlpzx/auto-riego/internal/metrics"
)

// NewRouter wires every route the daemon exposes. Reads (zone listing, the
// websocket feed, health, metrics) are open like the rest of the estate's
// status endpoints; the two mutation paths carry their own gates. accessLog
// may be nil to disable access logging.
func NewRouter(h *Handlers, accessLog io.Writer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/zones", h.ListZones).Methods(http.MethodGet)
	api.HandleFunc("/zones/{zone}", h.GetZone).Methods(http.MethodGet)
	api.Handle("/zones/{zone}/readings",
		h.RequireDeviceKey(http.HandlerFunc(h.PostReading))).Methods(http.MethodPost)
	api.Handle("/zones/{zone}/valve",
		h.RequireOperator(http.HandlerFunc(h.PostValve))).Methods(http.MethodPost)

	var out http.Handler = r
	out = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-API-Key"}),
	)(out)
	out = handlers.RecoveryHandler()(out)
	if accessLog != nil {
		out = handlers.LoggingHandler(accessLog, out)
	}
	return out
}
