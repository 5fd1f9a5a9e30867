package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/renvik/presend/pkg/schema"
)

// handleRender validates and renders a request template.
func (s *PresendServer) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	record := requestFromParams(req)
	overrides := mcp.ParseStringMap(req, "overrides", nil)

	if err := s.validator.ValidateRequest(record); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid request: %v", err)), nil
	}

	rendered, err := s.hook.ProcessBeforeRequest(ctx, record, overrides)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
	}

	return marshalResult(rendered)
}

// handleEval evaluates a single template string.
func (s *PresendServer) handleEval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError("value is required"), nil
	}

	result, evalErr := s.hook.Evaluate(ctx, value)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", evalErr)), nil
	}

	return marshalResult(map[string]any{"value": result})
}

// handleSend renders a request template and executes it.
func (s *PresendServer) handleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := req.RequireString("url"); err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}

	record := requestFromParams(req)
	overrides := mcp.ParseStringMap(req, "overrides", nil)

	if err := s.validator.ValidateRequest(record); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid request: %v", err)), nil
	}

	rendered, err := s.hook.ProcessBeforeRequest(ctx, record, overrides)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
	}

	resp, sendErr := s.sender.Send(ctx, rendered)
	if sendErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("send failed: %v", sendErr)), nil
	}

	return marshalResult(resp)
}

// handleVars manages the variable store.
func (s *PresendServer) handleVars(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	switch op {
	case "list":
		all, listErr := s.store.All(ctx)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"variables": all})

	case "get":
		name, nameErr := req.RequireString("name")
		if nameErr != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		val, getErr := s.store.Get(ctx, name)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", getErr)), nil
		}
		return marshalResult(map[string]any{"name": name, "value": val})

	case "set":
		name, nameErr := req.RequireString("name")
		if nameErr != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		raw, valErr := req.RequireString("value")
		if valErr != nil {
			return mcp.NewToolResultError("value is required"), nil
		}
		if setErr := s.store.Set(ctx, name, decodeValue(raw)); setErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("set failed: %v", setErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "name": name})

	case "delete":
		name, nameErr := req.RequireString("name")
		if nameErr != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		if delErr := s.store.Delete(ctx, name); delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "name": name})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown op: %s", op)), nil
	}
}

// --- Internal helpers ---

// requestFromParams builds a request record from tool params, leaving absent
// fields nil so rendering skips them.
func requestFromParams(req mcp.CallToolRequest) *schema.Request {
	record := &schema.Request{Name: req.GetString("name", "")}
	for _, field := range []string{schema.FieldURL, schema.FieldMethod, schema.FieldHeaders, schema.FieldPayload} {
		if v := req.GetString(field, ""); v != "" {
			*record.Field(field) = schema.Str(v)
		}
	}
	return record
}

// decodeValue parses the value as JSON when possible, falling back to the
// raw string so agents can pass plain text without quoting.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
