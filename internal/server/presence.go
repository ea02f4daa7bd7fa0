package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var presenceUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins already passed the CORS layer; presence carries no document
	// content.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handlePresence upgrades the connection and parks it in the document's
// presence room until the peer disconnects.
func (h *httpHandler) handlePresence(c *gin.Context) {
	doc, _, ok := h.authorizedDocument(c, document.RoleViewer)
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence_unavailable"})
		return
	}

	conn, err := presenceUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("presence upgrade failed", zap.Error(err))
		return
	}
	h.hub.HandleConnection(conn, doc.ID, userID)
}
