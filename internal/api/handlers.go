// File: internal/api/handlers.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/decentraleyes/loadwatcher/internal/taint"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TaintReader is the read side of the taint store served to the substitution engine.
type TaintReader interface {
	Contains(domain string) bool
	Domains() []string
}

// TaintResponse answers a single-domain lookup.
type TaintResponse struct {
	Domain  string `json:"domain"`
	Tainted bool   `json:"tainted"`
}

// ListResponse carries the whole tainted set.
type ListResponse struct {
	Domains []string `json:"domains"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handlers serves taint lookups.
type Handlers struct {
	log   *zap.Logger
	store TaintReader
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, store TaintReader) *Handlers {
	return &Handlers{
		log:   logger.Named("api_handlers"),
		store: store,
	}
}

// RegisterRoutes mounts the lookup endpoints under /v1.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/v1/taint", func(r chi.Router) {
		r.Get("/", h.HandleListTainted)
		r.Get("/{domain}", h.HandleGetTaint)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleGetTaint reports whether a single domain is tainted.
func (h *Handlers) HandleGetTaint(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "domain")
	domain, ok := taint.NormalizeDomain(raw)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "invalid domain")
		return
	}
	h.respond(w, http.StatusOK, TaintResponse{Domain: domain, Tainted: h.store.Contains(domain)})
}

// HandleListTainted returns every tainted domain, sorted.
func (h *Handlers) HandleListTainted(w http.ResponseWriter, r *http.Request) {
	domains := h.store.Domains()
	if domains == nil {
		domains = []string{}
	}
	h.respond(w, http.StatusOK, ListResponse{Domains: domains})
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
