// Package inspect serves the chains delivered to sinks as JSON so operators
// can see the resolved handler order of a running engine.
package inspect

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

// Source is a sink whose delivered chains can be listed.
type Source interface {
	Flows() []phase.Flow
	Chain(flow phase.Flow) (chain.Chain, bool)
}

// Consumer is the JSON view of one sink.
type Consumer struct {
	Name   string               `json:"name"`
	Chains []jsoncodec.Snapshot `json:"chains"`
}

// Handler lists the chains of every added source under GET requests.
type Handler struct {
	mu      sync.RWMutex
	sources map[string]Source

	// AllowedOrigins lists CORS origins. Use "*" for development; empty
	// disables CORS headers.
	AllowedOrigins []string
	Logger         loggingpkg.Logger
}

// NewHandler returns an empty handler.
func NewHandler(logger loggingpkg.Logger, allowedOrigins ...string) *Handler {
	return &Handler{
		sources:        make(map[string]Source),
		AllowedOrigins: allowedOrigins,
		Logger:         loggingpkg.OrDefault(logger),
	}
}

// Add exposes src under name, replacing any source with the same name.
func (h *Handler) Add(name string, src Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[name] = src
}

// Consumers returns the current view, sorted by consumer name.
func (h *Handler) Consumers() []Consumer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.sources))
	for name := range h.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Consumer, 0, len(names))
	for _, name := range names {
		src := h.sources[name]
		c := Consumer{Name: name, Chains: []jsoncodec.Snapshot{}}
		for _, f := range src.Flows() {
			if built, ok := src.Chain(f); ok {
				c.Chains = append(c.Chains, jsoncodec.NewSnapshot(built))
			}
		}
		out = append(out, c)
	}
	return out
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if allowed := h.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(h.Consumers())
	if err != nil {
		h.Logger.Error("Failed to encode chains", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin.
func (h *Handler) allowedOrigin(origin string) string {
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}
