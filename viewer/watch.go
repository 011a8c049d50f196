package viewer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/BaSui01/cadflow/api"
)

// Watch subscribes to publish events at url and calls fn for each one until
// ctx is done or the server closes the stream. A normal close returns nil.
func Watch(ctx context.Context, url string, fn func(api.ArtifactEvent)) error {
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return &ClientError{Kind: ClassifyStatus(resp.StatusCode), Status: resp.StatusCode, Raw: err.Error(), Cause: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ClientError{Kind: KindNetworkUnreachable, Raw: err.Error(), Cause: err}
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		var ev api.ArtifactEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal artifact event: %w", err)
		}
		fn(ev)
	}
}
