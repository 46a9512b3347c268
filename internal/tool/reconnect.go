package tool

import (
	"context"
	"fmt"

	"chameleon/internal/host"
)

func init() {
	host.Register("reconnect_db", func(c *host.Context) host.Tool {
		return &reconnectTool{ctx: c}
	})
	define(Definition{
		Name: "reconnect_db",
		Description: "Attempt to reconnect the business data store after an outage. " +
			"Retries with exponential backoff and reports how many attempts were needed.",
		InputSchema: objectSchema(nil, map[string]interface{}{}),
	})
}

type reconnectTool struct {
	ctx *host.Context
}

func (t *reconnectTool) Run(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.ctx.Data == nil {
		return nil, fmt.Errorf("no data store configured")
	}
	if t.ctx.Data.Connected() {
		return map[string]interface{}{
			"status":  "connected",
			"message": "Data store is already connected.",
		}, nil
	}

	attempts, err := t.ctx.Data.Reconnect(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconnect failed after %d attempts: %w", attempts, err)
	}
	t.ctx.Log(fmt.Sprintf("data store reconnected after %d attempt(s)", attempts))
	return map[string]interface{}{
		"status":   "connected",
		"attempts": attempts,
		"message":  fmt.Sprintf("Data store reconnected after %d attempt(s).", attempts),
	}, nil
}
