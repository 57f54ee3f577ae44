package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
	"github.com/gaspardpetit/plannerbridge/internal/logx"
)

// ServerTools adapts the catalogue to MCP tools backed by d.
func (d *Dispatcher) ServerTools() ([]server.ServerTool, error) {
	out := make([]server.ServerTool, 0, len(d.defs))
	for _, def := range d.defs {
		schema, err := def.InputSchema()
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", def.Name, err)
		}
		tool := mcp.NewToolWithRawSchema(def.Name, def.Description, schema)
		tool.Annotations = mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(!def.Mutates),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(!def.Mutates),
			OpenWorldHint:   mcp.ToBoolPtr(true),
		}
		out = append(out, server.ServerTool{Tool: tool, Handler: d.handler(def.Name)})
	}
	return out, nil
}

func (d *Dispatcher) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env := d.Dispatch(ctx, name, req.GetArguments(), progressSink(ctx, req))
		text, err := json.Marshal(env)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res := mcp.NewToolResultStructured(env, string(text))
		res.IsError = !env.Success
		return res, nil
	}
}

// progressSink forwards stream tokens as MCP progress notifications when
// the caller asked for progress.
func progressSink(ctx context.Context, req mcp.CallToolRequest) func(bridgewire.StreamToken) {
	if req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return nil
	}
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	token := req.Params.Meta.ProgressToken
	n := 0
	return func(tok bridgewire.StreamToken) {
		n++
		err := srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      n,
			"message":       tok.Token,
		})
		if err != nil {
			logx.Log.Debug().Err(err).Msg("progress notification dropped")
		}
	}
}
