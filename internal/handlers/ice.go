package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetICEConfig returns the ICE server list clients feed into their peer
// connections. Our TURN server answers STUN on the same port, so both URLs
// point at it; extra STUN servers from the config are prepended.
//
// We hand out "turn:" rather than "turns:" because the TURN listener is
// UDP-only; media is encrypted by DTLS-SRTP regardless.
func (h *Handlers) GetICEConfig(c *gin.Context) {
	host := c.Request.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	creds := h.turnServer.GetCredentials()

	iceServers := make([]map[string]interface{}, 0, len(h.config.StunURLs)+2)
	for _, stun := range h.config.StunURLs {
		iceServers = append(iceServers, map[string]interface{}{"urls": stun})
	}
	iceServers = append(iceServers,
		map[string]interface{}{
			"urls": fmt.Sprintf("stun:%s:%d", host, h.config.TURNPort),
		},
		map[string]interface{}{
			"urls":       fmt.Sprintf("turn:%s:%d", host, h.config.TURNPort),
			"username":   creds.Username,
			"credential": creds.Password,
		},
	)

	c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
}
