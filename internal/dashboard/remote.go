package dashboard

import (
	"context"

	"github.com/nerrad567/suntec-core/internal/gateway"
)

// gatewayRemote adapts *gateway.Client to Remote.
type gatewayRemote struct {
	*gateway.Client
}

// NewRemote returns the gateway client as a Remote.
func NewRemote(c *gateway.Client) Remote {
	return gatewayRemote{Client: c}
}

func (g gatewayRemote) Subscribe(ctx context.Context, deviceID string, onState func(gateway.StreamState)) Live {
	return g.Client.Subscribe(ctx, deviceID, gateway.WithStateHook(onState))
}
