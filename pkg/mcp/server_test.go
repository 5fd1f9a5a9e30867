package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/renvik/presend/internal/contextbuild"
	"github.com/renvik/presend/internal/expressions"
	"github.com/renvik/presend/internal/hook"
	"github.com/renvik/presend/internal/sender"
	"github.com/renvik/presend/internal/validation"
	"github.com/renvik/presend/internal/variables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer wires a server against an in-memory variable store.
func newTestServer(t *testing.T) (*PresendServer, *variables.MemoryStore) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := variables.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "host", "api.example.com"))
	require.NoError(t, store.Set(context.Background(), "port", 8080))

	builder := contextbuild.New(contextbuild.Config{
		Stores:      []variables.Store{store},
		Environment: map[string]any{"name": "test"},
	}, logger)

	renderer := expressions.NewRenderer(expressions.NewExprEngine())
	h := hook.New(renderer, builder, hook.Config{}, logger)

	validator, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)

	s := NewPresendServer(PresendServerDeps{
		Hook:      h,
		Sender:    sender.New(sender.Config{FollowRedirects: true}, logger),
		Store:     store,
		Validator: validator,
		Logger:    logger,
	})
	return s, store
}

func buildRequest(toolName string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

// --- Tests ---

func TestRenderTool(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("presend.render", map[string]any{
		"name":    "get-user",
		"url":     `https://${{ vars.host }}/v1/users`,
		"method":  "GET",
		"payload": `{"env":"${{ env.name }}"}`,
	})

	result, err := s.handleRender(context.Background(), req)
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, "https://api.example.com/v1/users", out["url"])
	assert.Equal(t, "GET", out["method"])
	assert.Equal(t, `{"env":"test"}`, out["payload"])
	assert.NotContains(t, out, "headers")
}

func TestRenderToolOverrides(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("presend.render", map[string]any{
		"url":       `https://${{ vars.host }}/v1`,
		"overrides": map[string]any{"host": "staging.example.com"},
	})

	result, err := s.handleRender(context.Background(), req)
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, "https://staging.example.com/v1", out["url"])
}

func TestRenderToolInvalidTemplate(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("presend.render", map[string]any{
		"url": `https://${{ vars.host /v1`,
	})

	result, err := s.handleRender(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRenderToolNoFields(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleRender(context.Background(), buildRequest("presend.render", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEvalTool(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("presend.eval", map[string]any{"value": `${{ vars.port }}`})
	result, err := s.handleEval(context.Background(), req)
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, float64(8080), out["value"], "whole fragment returns the raw value")
}

func TestEvalToolMissingValue(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleEval(context.Background(), buildRequest("presend.eval", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEvalToolUndefinedVariable(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("presend.eval", map[string]any{"value": `${{ vars.missing.deep }}`})
	result, err := s.handleEval(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSendTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	s, store := newTestServer(t)
	require.NoError(t, store.Set(context.Background(), "base", srv.URL))

	req := buildRequest("presend.send", map[string]any{
		"url":    `${{ vars.base }}/v1/users`,
		"method": "POST",
	})

	result, err := s.handleSend(context.Background(), req)
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, float64(http.StatusCreated), out["status_code"])
	assert.Equal(t, `{"id":1}`, out["body"])
}

func TestSendToolMissingURL(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleSend(context.Background(), buildRequest("presend.send", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestVarsTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	// set: JSON values decode, plain text stays a string.
	result, err := s.handleVars(ctx, buildRequest("presend.vars", map[string]any{
		"op": "set", "name": "retries", "value": "3",
	}))
	require.NoError(t, err)
	resultJSON(t, result)

	result, err = s.handleVars(ctx, buildRequest("presend.vars", map[string]any{
		"op": "set", "name": "region", "value": "us-east-1",
	}))
	require.NoError(t, err)
	resultJSON(t, result)

	// get
	result, err = s.handleVars(ctx, buildRequest("presend.vars", map[string]any{
		"op": "get", "name": "retries",
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(3), resultJSON(t, result)["value"])

	// list
	result, err = s.handleVars(ctx, buildRequest("presend.vars", map[string]any{"op": "list"}))
	require.NoError(t, err)
	vars := resultJSON(t, result)["variables"].(map[string]any)
	assert.Equal(t, "us-east-1", vars["region"])

	// delete then get fails
	result, err = s.handleVars(ctx, buildRequest("presend.vars", map[string]any{
		"op": "delete", "name": "retries",
	}))
	require.NoError(t, err)
	resultJSON(t, result)

	result, err = s.handleVars(ctx, buildRequest("presend.vars", map[string]any{
		"op": "get", "name": "retries",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestVarsToolBadOp(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleVars(context.Background(), buildRequest("presend.vars", map[string]any{"op": "purge"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
