package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skysched/vertiport/internal/admission"
	"github.com/skysched/vertiport/internal/broadcast"
	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	controller *admission.Controller
	config     *config.Config
	logger     *logger.Logger
	startedAt  time.Time
}

// NewHandler creates a new API handler
func NewHandler(controller *admission.Controller, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		controller: controller,
		config:     config,
		logger:     logger.Named("api-handler"),
		startedAt:  time.Now(),
	}
}

// GetVehicles returns the recency view of the fleet, most recently updated
// vehicle last.
func (h *Handler) GetVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles := h.controller.FleetSnapshot()

	response := map[string]any{
		"vehicles": vehicles,
		"count":    len(vehicles),
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetQueue returns the published slice of the landing queue. Entries without
// current telemetry are filtered, matching the WebSocket feed.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.controller.RankedSnapshot()
	if err != nil {
		h.logger.Error("Failed to read landing queue", logger.Error(err))
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to read landing queue"})
		return
	}

	slots := make([]broadcast.QueueSlot, 0, len(entries))
	for _, e := range entries {
		if e.Detail == nil {
			continue
		}
		slots = append(slots, broadcast.QueueSlot{
			Rank:      len(slots) + 1,
			UAMID:     e.UAMID,
			Score:     e.Score,
			Telemetry: e.Detail,
		})
	}

	response := map[string]any{
		"queue": slots,
		"count": len(slots),
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetLanded returns the landed ledger, newest first.
func (h *Handler) GetLanded(w http.ResponseWriter, r *http.Request) {
	records, err := h.controller.LandedRecords()
	if err != nil {
		h.logger.Error("Failed to read landed ledger", logger.Error(err))
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to read landed ledger"})
		return
	}
	if records == nil {
		records = []uam.LandedRecord{}
	}

	response := map[string]any{
		"landed": records,
		"count":  len(records),
	}
	WriteJSON(w, http.StatusOK, response)
}

// ApproveLanding processes a landing-approval command for a vehicle. The
// response mirrors the WebSocket approve_result payload.
func (h *Handler) ApproveLanding(w http.ResponseWriter, r *http.Request) {
	uamID := chi.URLParam(r, "id")
	if uamID == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "missing vehicle id"})
		return
	}

	status, err := h.controller.Approve(uamID)
	if err != nil {
		h.logger.Error("Failed to process approval",
			logger.String("uam_id", uamID),
			logger.Error(err))
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to process approval"})
		return
	}

	code := http.StatusOK
	if status == admission.StatusUnknown {
		code = http.StatusNotFound
	}
	WriteJSON(w, code, map[string]any{
		"status": string(status),
		"uamId":  uamID,
	})
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"queue_depth":    h.controller.QueueDepth(),
	}
	WriteJSON(w, http.StatusOK, response)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
