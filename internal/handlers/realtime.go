package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/charlesng35/meetrec/internal/realtime"
	appErrors "github.com/charlesng35/meetrec/pkg/errors"
	"github.com/charlesng35/meetrec/pkg/response"
)

// ConnectionServer upgrades and serves one websocket connection.
type ConnectionServer interface {
	Serve(w http.ResponseWriter, r *http.Request, dispatcher realtime.Dispatcher)
}

// RealtimeHandler upgrades recorder clients onto the realtime hub.
type RealtimeHandler struct {
	hub        ConnectionServer
	dispatcher realtime.Dispatcher
}

func NewRealtimeHandler(hub ConnectionServer, dispatcher realtime.Dispatcher) (*RealtimeHandler, error) {
	if hub == nil || dispatcher == nil {
		return nil, errors.New("realtime handler: hub and dispatcher are required")
	}
	return &RealtimeHandler{hub: hub, dispatcher: dispatcher}, nil
}

// Stream serves GET /ws. Meeting membership is established by the join
// message, not by the upgrade request.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		response.Error(c, appErrors.NewBadRequest("websocket upgrade required"))
		return
	}
	h.hub.Serve(c.Writer, c.Request, h.dispatcher)
}
