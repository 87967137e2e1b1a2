package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/http/respond"
	"github.com/example/servicebook/internal/presence"
)

// HTTP exposes heartbeat ingestion for devices that cannot hold a stream.
type HTTP struct {
	ingestor *presence.Ingestor
	logger   *zap.Logger
}

func NewHTTP(ingestor *presence.Ingestor, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{ingestor: ingestor, logger: logger.Named("http")}
}

func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Post("/v1/presence/heartbeat", h.heartbeat)
	r.Get("/v1/presence/{vendorId}", h.get)
	return r
}

func (h *HTTP) heartbeat(w http.ResponseWriter, r *http.Request) {
	var msg HeartbeatMsg
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := h.ingestor.Record(r.Context(), msg.heartbeat())
	if errors.Is(err, presence.ErrInvalidHeartbeat) {
		respond.Error(w, http.StatusBadRequest, err.Error(), "vendorId")
		return
	}
	if err != nil {
		h.logger.Error("record heartbeat failed", zap.String("vendor_id", msg.VendorID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "presence": p})
}

func (h *HTTP) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.ingestor.Get(r.Context(), chi.URLParam(r, "vendorId"))
	if errors.Is(err, presence.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "vendor has no presence")
		return
	}
	if err != nil {
		h.logger.Error("get presence failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "presence": p})
}
