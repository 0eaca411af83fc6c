package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/service"
	"github.com/quocanhngo/clipsync/internal/ws"
)

// Bound on store work done for a single socket message
const wsRequestTimeout = 10 * time.Second

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub              *ws.Hub
	authService      *service.AuthService
	clipboardService *service.ClipboardService
	authTimeout      time.Duration
	upgrader         websocket.Upgrader
}

// NewWSHandler builds the socket endpoint. Browser origins are checked
// against allowedOrigins; "*" accepts any.
func NewWSHandler(hub *ws.Hub, authService *service.AuthService, clipboardService *service.ClipboardService, authTimeout time.Duration, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:              hub,
		authService:      authService,
		clipboardService: clipboardService,
		authTimeout:      authTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// native clients send no Origin
		return origin == "" || set["*"] || set[origin]
	}
}

// HandleWebSocket upgrades HTTP to WebSocket and manages the connection.
// The token comes from ?token=<jwt> or from a first auth frame.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	if err := client.Handshake(c.Request.Context(), c.Query("token"), h.authService, h.authTimeout); err != nil {
		log.Printf("🚫 WS handshake failed from %s: %v", c.ClientIP(), err)
		return
	}

	if err := h.hub.Register(c.Request.Context(), client); err != nil {
		log.Printf("❌ WS register failed for %s: %v", client.UserID, err)
		client.Abort(websocket.CloseTryAgainLater, ws.CloseReasonUnavailable)
		return
	}

	client.Send(model.NewWSMessage(model.WSTypeAuthSuccess, gin.H{
		"user_id":   client.UserID,
		"device_id": client.DeviceID,
	}))

	// Start read/write pumps in goroutines
	go client.WritePump()
	go client.ReadPump(h.handleWSMessage)
}

// handleWSMessage processes incoming WebSocket messages from clients
func (h *WSHandler) handleWSMessage(client *ws.Client, msg *model.WSMessage) {
	switch msg.Type {
	case model.WSTypePing:
		h.hub.Touch(client)
		client.Send(model.NewWSMessage(model.WSTypePong, nil))

	case model.WSTypeSync:
		h.handleSync(client, msg)

	case model.WSTypeRequestHistory:
		h.handleHistory(client, msg)

	case model.WSTypeKeyExchange:
		h.handleKeyExchange(client, msg)

	default:
		client.SendError("unknown message type: " + msg.Type)
	}
}

// handleSync stores a clip pushed over the socket. The other devices hear
// about it through the bridge like any other add.
func (h *WSHandler) handleSync(client *ws.Client, msg *model.WSMessage) {
	var data model.WSSyncData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		client.SendError("malformed sync payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsRequestTimeout)
	defer cancel()

	item, err := h.clipboardService.Add(ctx, service.AddClipInput{
		UserID:      client.UserID,
		DeviceID:    client.DeviceID,
		Content:     data.Content,
		ContentType: data.ContentType,
		Encrypted:   data.Encrypted,
	})
	if err != nil {
		client.SendError(errorReason(err))
		return
	}

	client.Send(model.NewWSMessage(model.WSTypeSyncConfirm, gin.H{"clip_id": item.ID}))
}

// handleKeyExchange installs a session key the same way POST /auth/key-exchange does
func (h *WSHandler) handleKeyExchange(client *ws.Client, msg *model.WSMessage) {
	var data model.WSKeyExchangeData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.EncryptedKey == "" {
		client.SendError("missing encrypted session key")
		return
	}

	if err := h.authService.ExchangeSessionKey(client.UserID, data.EncryptedKey); err != nil {
		client.SendError(errorReason(err))
		return
	}

	client.Send(model.NewWSMessage(model.WSTypeKeyExchangeOK, nil))
}

func (h *WSHandler) handleHistory(client *ws.Client, msg *model.WSMessage) {
	var req model.WSHistoryRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.SendError("malformed history request")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsRequestTimeout)
	defer cancel()

	page, err := h.clipboardService.List(ctx, client.UserID, req.Page, req.PageSize, false)
	if err != nil {
		client.SendError(errorReason(err))
		return
	}

	client.Send(model.NewWSMessage(model.WSTypeHistory, page))
}

// errorReason is the client-safe text for err
func errorReason(err error) string {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.target.Error()
		}
	}
	log.Printf("❌ WS request failed: %v", err)
	return "internal error"
}
