package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminHandler serves the operator endpoints:
//
//	GET /healthz    "ok", or 503 once shutdown has started
//	GET /metrics    Prometheus exposition
//	GET /sessions   logged-in usernames as a JSON array
func (svr *Server) AdminHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", svr.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(svr.metrics.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/sessions", svr.listSessions).Methods(http.MethodGet)
	return r
}

func (svr *Server) health(w http.ResponseWriter, req *http.Request) {
	if svr.shutdown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "shutting down")
		return
	}
	io.WriteString(w, "ok")
}

func (svr *Server) listSessions(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(svr.svc.Sessions().Identities()); err != nil {
		svr.log.WithError(err).Warn("write sessions response")
	}
}
