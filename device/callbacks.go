package device

import (
	"github.com/enigmaiot/enigmaiot/espnow"
	"github.com/enigmaiot/enigmaiot/wire"
)

// OnDataRx delivers an accepted upstream payload to the application layer.
// lost is the estimated number of messages missed since the previous one.
type OnDataRx func(src espnow.Addr, payload []byte, lost uint16, control bool,
	encoding wire.PayloadEncoding, nodeName string)

// OnNewNode fires when a node completes a handshake for the first time or
// after having been unregistered.
type OnNewNode func(src espnow.Addr, id uint16, name string)

// OnNodeDisconnected fires when a session is destroyed, with the invalidate
// reason that was sent to (or received from) the peer.
type OnNodeDisconnected func(src espnow.Addr, reason wire.InvalidateReason)

// OnHADiscovery hands a decoded Home Assistant discovery message to the
// upper layer for MQTT publication.
type OnHADiscovery func(topic string, payload []byte)

// OnGatewayRestartRequested fires when a node control message asks for a
// gateway restart.
type OnGatewayRestartRequested func()

// GatewayCallbacks groups the hooks a gateway application may register. Nil
// members are simply not invoked.
type GatewayCallbacks struct {
	DataRx           OnDataRx
	NewNode          OnNewNode
	NodeDisconnected OnNodeDisconnected
	HADiscovery      OnHADiscovery
	RestartRequested OnGatewayRestartRequested
}
