package clients

import (
	"context"
	"fmt"

	ws "libcirc/internal/transport/websocket"
)

// WebSocketClient is the Notification Gateway binding: it pushes dispatcher
// payloads to the borrower's channel and to the shared admin pool. Delivery
// guarantees beyond the emission attempt are the gateway's problem.
type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{
		hub: hub,
	}
}

func (c *WebSocketClient) SendToUser(ctx context.Context, userKey, msgType string, data map[string]interface{}) error {
	if c.hub == nil {
		return nil
	}

	message := &ws.Message{
		Type:    msgType,
		Channel: fmt.Sprintf("loan_updates#%s", userKey),
		Data:    data,
	}

	c.hub.Broadcast(userKey, message)
	return nil
}

func (c *WebSocketClient) SendToAdmins(ctx context.Context, msgType string, data map[string]interface{}) error {
	if c.hub == nil {
		return nil
	}

	message := &ws.Message{
		Type:    msgType,
		Channel: "loan_admin_pool",
		Data:    data,
	}

	c.hub.Broadcast(ws.AdminPool, message)
	return nil
}
