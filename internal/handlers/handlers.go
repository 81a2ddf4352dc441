package handlers

import (
	"github.com/gorilla/websocket"

	"github.com/classmeet/classmeet/internal/config"
	"github.com/classmeet/classmeet/internal/registry"
	"github.com/classmeet/classmeet/internal/relay"
	"github.com/classmeet/classmeet/internal/turn"
)

type Handlers struct {
	config     *config.Config
	turnServer *turn.Server
	registry   *registry.Registry
	relay      *relay.Relay
	wsUpgrader websocket.Upgrader
}

func New(
	config *config.Config,
	turnServer *turn.Server,
	reg *registry.Registry,
	rel *relay.Relay,
	wsUpgrader websocket.Upgrader,
) *Handlers {
	return &Handlers{
		config:     config,
		turnServer: turnServer,
		registry:   reg,
		relay:      rel,
		wsUpgrader: wsUpgrader,
	}
}
