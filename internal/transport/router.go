package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewRouter serves the hub's WebSocket endpoint, its assets and a health
// check. The handler speaks HTTP/1.1 and HTTP/2 cleartext.
func NewRouter(hub *Hub, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/ws", hub.ServeWS)
	r.Get("/assets/{digest}", hub.serveAsset)
	r.Get("/healthz", hub.serveHealth)

	return h2c.NewHandler(r, &http2.Server{})
}

func (h *Hub) serveAsset(w http.ResponseWriter, r *http.Request) {
	digest := chi.URLParam(r, "digest")

	h.mu.RLock()
	data, ok := h.assets[digest]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+digest+`"`)
	_, _ = w.Write(data)
}

type healthResponse struct {
	Status     string `json:"status"`
	Node       string `json:"node"`
	Publishing bool   `json:"publishing"`
	Peers      int    `json:"peers"`
}

func (h *Hub) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:     "ok",
		Node:       string(h.nodeID),
		Publishing: h.IsConnected(),
		Peers:      h.PeerCount(),
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("proto", r.Proto),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		})
	}
}
