package admission

import (
	"fmt"

	"github.com/skysched/vertiport/internal/websocket"
	"github.com/skysched/vertiport/pkg/logger"
)

// WebSocketHandler handles incoming WebSocket messages for the admission
// controller and pushes the landed ledger to newly connected observers.
type WebSocketHandler struct {
	controller *Controller
	logger     *logger.Logger
}

// NewWebSocketHandler creates a new WebSocket message handler
func NewWebSocketHandler(controller *Controller, logger *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		controller: controller,
		logger:     logger.Named("admission-ws-handler"),
	}
}

// HandleMessage handles incoming WebSocket messages
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeLandingApprove:
		return h.handleLandingApprove(client, data)
	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
		return nil
	}
}

// HandleConnect pushes the current landed ledger to a freshly connected
// observer so it does not have to wait for the next landing.
func (h *WebSocketHandler) HandleConnect(client *websocket.Client) {
	records, err := h.controller.LandedRecords()
	if err != nil {
		h.logger.Error("Failed to load landed ledger for new client", logger.Error(err))
		return
	}

	h.sendToClient(client, &websocket.Message{
		Type: websocket.MessageTypeLandedUpdate,
		Data: map[string]any{"landed": records},
	})
}

// handleLandingApprove processes a landing-approval command from an observer.
// The outcome is reported back to the issuing client only; the resulting
// ledger update (if any) goes out on the broadcast feed.
func (h *WebSocketHandler) handleLandingApprove(client *websocket.Client, data map[string]any) error {
	uamID, ok := data["uamId"].(string)
	if !ok || uamID == "" {
		return fmt.Errorf("landing_approve message missing uamId")
	}

	status, err := h.controller.Approve(uamID)
	if err != nil {
		h.logger.Error("Failed to process approval",
			logger.String("uam_id", uamID),
			logger.Error(err))
		return err
	}

	return h.sendToClient(client, &websocket.Message{
		Type: websocket.MessageTypeApproveResult,
		Data: map[string]any{
			"status": string(status),
			"uamId":  uamID,
		},
	})
}

// sendToClient sends a message to a specific client
func (h *WebSocketHandler) sendToClient(client *websocket.Client, message *websocket.Message) error {
	if !client.SendMessage(message) {
		h.logger.Warn("Client send channel full, dropping message",
			logger.String("type", message.Type))
	}
	return nil
}
