package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/reportsync/internal/buildinfo"
	"github.com/xelth-com/reportsync/internal/ledger"
	"github.com/xelth-com/reportsync/internal/middleware"
	"github.com/xelth-com/reportsync/internal/runstate"
	"github.com/xelth-com/reportsync/internal/websocket"
	"go.uber.org/zap"
)

// Deps are the services the status API reads from
type Deps struct {
	Ledger    *ledger.Ledger
	State     *runstate.State
	Hub       *websocket.Hub // nil disables /ws
	Metrics   http.Handler   // nil disables /metrics
	JWTSecret string
	Log       *zap.Logger
}

// Router wraps the mux router and the ledger
type Router struct {
	*mux.Router
	ledger *ledger.Ledger
	state  *runstate.State
	hub    *websocket.Hub
	log    *zap.Logger
}

// NewRouter creates the read-only status API. Nothing here mutates rules
// or statements.
func NewRouter(d Deps) *Router {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	state := d.State
	if state == nil {
		state = runstate.New()
	}
	r := &Router{
		Router: mux.NewRouter(),
		ledger: d.Ledger,
		state:  state,
		hub:    d.Hub,
		log:    log.With(zap.String("component", "api")),
	}
	r.Use(middleware.RequestLogger(r.log))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods("GET")
	}

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(d.JWTSecret))
	api.HandleFunc("/status", r.getStatus).Methods("GET")
	api.HandleFunc("/statements", r.listStatements).Methods("GET")
	api.HandleFunc("/statements/{id:[0-9]+}", r.getStatement).Methods("GET")
	api.HandleFunc("/statements/{id:[0-9]+}/executions", r.listExecutions).Methods("GET")
	api.HandleFunc("/documents", r.listDocuments).Methods("GET")
	api.HandleFunc("/passes", r.listPasses).Methods("GET")

	if r.hub != nil {
		r.Handle("/ws", middleware.Auth(d.JWTSecret)(http.HandlerFunc(r.serveWs))).Methods("GET")
	}

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": r.state.Running(),
		"build":   buildinfo.Current(),
	})
}

// getStatus reports the loop state, the last pass and statement counts
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	counts, err := r.ledger.StatusCounts(req.Context())
	if err != nil {
		r.log.Error("status counts failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":      r.state.Snapshot(),
		"statements": counts,
	})
}

func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	websocket.ServeWs(r.hub, w, req)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
