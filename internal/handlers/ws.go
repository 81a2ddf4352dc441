package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// HandleWebSocket upgrades the connection and hands it to the relay, which
// owns it until the transport drops. Identity is connection-scoped: the relay
// assigns the connection id and announces it in a welcome message.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Default().Warn("ws upgrade failed", "ip", c.ClientIP(), "error", err)
		return
	}
	h.relay.Serve(conn)
}
