package rpcclient

import (
	"context"
	"fmt"
	"log"

	"github.com/gorilla/websocket"
	"tododapp.mini/tdm/internal/rpcapi"
	"tododapp.mini/tdm/internal/types"
)

// Subscribe opens the node's notification feed for packageID. The
// returned channel is closed when the connection drops or ctx ends.
func (c *Client) Subscribe(ctx context.Context, packageID string) (<-chan types.Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wsAddr, err)
	}
	if err := conn.WriteJSON(rpcapi.SubscribeRequest{PackageID: packageID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan types.Event, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var n types.Notification
			if err := conn.ReadJSON(&n); err != nil {
				if ctx.Err() == nil {
					log.Printf("Warning: notification feed closed: %v", err)
				}
				return
			}
			if n.PackageID != packageID {
				continue
			}
			select {
			case out <- n.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
