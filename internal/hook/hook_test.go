package hook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/renvik/presend/internal/bus"
	"github.com/renvik/presend/internal/expressions"
	"github.com/renvik/presend/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles ---

type stubBuilder struct {
	env   map[string]any
	err   error
	calls atomic.Int32
}

func (b *stubBuilder) Build(context.Context, *schema.Request, map[string]any) (map[string]any, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return b.env, nil
}

type countingEngine struct {
	calls atomic.Int32
}

func (e *countingEngine) Name() string { return "expr" }

func (e *countingEngine) Evaluate(_ context.Context, expression string, _ map[string]any) (any, error) {
	e.calls.Add(1)
	return expression, nil
}

type throwingEngine struct {
	err error
}

func (e *throwingEngine) Name() string { return "expr" }

func (e *throwingEngine) Evaluate(context.Context, string, map[string]any) (any, error) {
	return nil, e.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func exprHook(cfg Config) *Hook {
	builder := &stubBuilder{env: map[string]any{
		"vars": map[string]any{"host": "api.example.com", "port": 8080},
	}}
	return New(expressions.NewRenderer(expressions.NewExprEngine()), builder, cfg, testLogger())
}

// --- ProcessBeforeRequest ---

func TestProcessBeforeRequest_OnlyPresentFieldsRendered(t *testing.T) {
	h := exprHook(Config{})
	req := &schema.Request{
		Name:    "get-user",
		URL:     schema.Str(`https://${{ vars.host }}/v1/users`),
		Payload: schema.Str(`{"host":"${{ vars.host }}"}`),
	}

	out, err := h.ProcessBeforeRequest(context.Background(), req, nil)
	require.NoError(t, err)
	require.Same(t, req, out, "record is mutated in place")

	assert.Equal(t, "https://api.example.com/v1/users", *req.URL)
	assert.Equal(t, `{"host":"api.example.com"}`, *req.Payload)
	assert.Nil(t, req.Method)
	assert.Nil(t, req.Headers)
}

func TestProcessBeforeRequest_FirstFailureRejects(t *testing.T) {
	boom := errors.New("boom")
	builder := &stubBuilder{env: map[string]any{}}
	h := New(expressions.NewRenderer(&throwingEngine{err: boom}), builder, Config{}, testLogger())

	req := &schema.Request{
		URL:    schema.Str(`https://${{ vars.host }}/x`),
		Method: schema.Str("GET"), // literal, would succeed on its own
	}

	_, err := h.ProcessBeforeRequest(context.Background(), req, nil)
	require.ErrorIs(t, err, boom)

	// No partial mutation on failure.
	assert.Equal(t, `https://${{ vars.host }}/x`, *req.URL)
	assert.Equal(t, "GET", *req.Method)
}

func TestProcessBeforeRequest_ContextBuiltOncePerCycle(t *testing.T) {
	builder := &stubBuilder{env: map[string]any{"vars": map[string]any{"host": "h"}}}
	h := New(expressions.NewRenderer(expressions.NewExprEngine()), builder, Config{}, testLogger())

	req := &schema.Request{
		URL:     schema.Str(`${{ vars.host }}`),
		Method:  schema.Str(`${{ vars.host }}`),
		Payload: schema.Str(`${{ vars.host }}`),
	}

	_, err := h.ProcessBeforeRequest(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), builder.calls.Load(), "one build per cycle, shared by all fields")

	req2 := &schema.Request{URL: schema.Str(`${{ vars.host }}`)}
	_, err = h.ProcessBeforeRequest(context.Background(), req2, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), builder.calls.Load(), "new cycle rebuilds the context")
}

func TestProcessBeforeRequest_ContextBuildFailure(t *testing.T) {
	cause := errors.New("store down")
	builder := &stubBuilder{err: cause}
	h := New(expressions.NewRenderer(expressions.NewExprEngine()), builder, Config{}, testLogger())

	_, err := h.ProcessBeforeRequest(context.Background(), &schema.Request{URL: schema.Str("x")}, nil)
	require.ErrorIs(t, err, cause)
}

func TestProcessBeforeRequest_MemoWithinCycleOnly(t *testing.T) {
	engine := &countingEngine{}
	builder := &stubBuilder{env: map[string]any{}}
	h := New(expressions.NewRenderer(engine), builder, Config{}, testLogger())

	// Same fragment twice in one field: rendered once, memo serves the second.
	req := &schema.Request{URL: schema.Str(`${{ x }}/${{ x }}`)}
	_, err := h.ProcessBeforeRequest(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), engine.calls.Load())

	// A new cycle must not reuse the previous cycle's entry.
	req2 := &schema.Request{URL: schema.Str(`${{ x }}`)}
	_, err = h.ProcessBeforeRequest(context.Background(), req2, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), engine.calls.Load())
}

// overridesBuilder surfaces the call's overrides directly as the vars
// namespace, so each cycle's env carries its own values.
type overridesBuilder struct{}

func (overridesBuilder) Build(_ context.Context, _ *schema.Request, overrides map[string]any) (map[string]any, error) {
	return map[string]any{"vars": overrides}, nil
}

// gatedEngine parks its first evaluation until released, letting a test
// hold one cycle open while another runs to completion.
type gatedEngine struct {
	calls        atomic.Int32
	firstEntered chan struct{}
	release      chan struct{}
}

func (e *gatedEngine) Name() string { return "expr" }

func (e *gatedEngine) Evaluate(_ context.Context, _ string, env map[string]any) (any, error) {
	if e.calls.Add(1) == 1 {
		close(e.firstEntered)
		<-e.release
	}
	return env["vars"].(map[string]any)["x"], nil
}

func TestProcessBeforeRequest_ConcurrentCyclesIsolated(t *testing.T) {
	engine := &gatedEngine{
		firstEntered: make(chan struct{}),
		release:      make(chan struct{}),
	}
	h := New(expressions.NewRenderer(engine), overridesBuilder{}, Config{}, testLogger())

	slow := &schema.Request{URL: schema.Str(`${{ x }}`)}
	slowDone := make(chan error, 1)
	go func() {
		_, err := h.ProcessBeforeRequest(context.Background(), slow, map[string]any{"x": "slow-value"})
		slowDone <- err
	}()

	// The first cycle is parked inside the engine; run a full second
	// cycle with a different value for the same fragment.
	<-engine.firstEntered
	fast := &schema.Request{URL: schema.Str(`${{ x }}`)}
	_, err := h.ProcessBeforeRequest(context.Background(), fast, map[string]any{"x": "fast-value"})
	require.NoError(t, err)
	assert.Equal(t, "fast-value", *fast.URL)

	close(engine.release)
	require.NoError(t, <-slowDone)
	assert.Equal(t, "slow-value", *slow.URL)

	// Neither cycle served the other's cached fragment.
	assert.Equal(t, int32(2), engine.calls.Load())
}

// --- before-send event handling ---

func TestHandleBeforeSend_AppendsAndResolves(t *testing.T) {
	d := bus.NewDispatcher()
	h := exprHook(Config{})
	h.Attach(d)

	detail := &schema.BeforeSendDetail{
		Request: &schema.Request{URL: schema.Str(`https://${{ vars.host }}/v1`)},
	}
	d.Dispatch(context.Background(), bus.NewEvent(schema.EventBeforeRequestSend, detail))

	promises := detail.Promises()
	require.Len(t, promises, 1)

	val, err := promises[0].Await(awaitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", *val.(*schema.Request).URL)
}

func TestHandleBeforeSend_LiteralRequestUnchanged(t *testing.T) {
	// Expression-looking text without ${{ markers is literal: the record
	// resolves unchanged even though the evaluator would choke on it.
	d := bus.NewDispatcher()
	h := exprHook(Config{})
	h.Attach(d)

	detail := &schema.BeforeSendDetail{
		Request: &schema.Request{URL: schema.Str("http://x/now()")},
	}
	d.Dispatch(context.Background(), bus.NewEvent(schema.EventBeforeRequestSend, detail))

	val, err := detail.Promises()[0].Await(awaitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "http://x/now()", *val.(*schema.Request).URL)
}

func TestHandleBeforeSend_RejectsWithEvaluatorError(t *testing.T) {
	boom := errors.New("bad expression")
	builder := &stubBuilder{env: map[string]any{}}
	h := New(expressions.NewRenderer(&throwingEngine{err: boom}), builder, Config{}, testLogger())

	d := bus.NewDispatcher()
	h.Attach(d)

	detail := &schema.BeforeSendDetail{
		Request: &schema.Request{URL: schema.Str(`http://x/${{ now() }}`)},
	}
	d.Dispatch(context.Background(), bus.NewEvent(schema.EventBeforeRequestSend, detail))

	_, err := detail.Promises()[0].Await(awaitCtx(t))
	require.ErrorIs(t, err, boom)
}

func TestHandleBeforeSend_PassThrough(t *testing.T) {
	boom := errors.New("must not be called")
	builder := &stubBuilder{env: map[string]any{}}
	h := New(expressions.NewRenderer(&throwingEngine{err: boom}), builder, Config{PassThrough: true}, testLogger())

	d := bus.NewDispatcher()
	h.Attach(d)

	detail := &schema.BeforeSendDetail{
		Request: &schema.Request{URL: schema.Str(`${{ this.would.fail }}`)},
	}
	d.Dispatch(context.Background(), bus.NewEvent(schema.EventBeforeRequestSend, detail))

	val, err := detail.Promises()[0].Await(awaitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, `${{ this.would.fail }}`, *val.(*schema.Request).URL)
	assert.Zero(t, builder.calls.Load(), "pass-through skips context building")
}

func TestDetach_StopsHandling(t *testing.T) {
	d := bus.NewDispatcher()
	h := exprHook(Config{})
	h.Attach(d)
	h.Detach()

	detail := &schema.BeforeSendDetail{Request: &schema.Request{URL: schema.Str("x")}}
	d.Dispatch(context.Background(), bus.NewEvent(schema.EventBeforeRequestSend, detail))

	assert.Empty(t, detail.Promises())
}

// --- on-demand evaluation ---

func TestHandleEvaluate_ClaimedByFirstHookOnly(t *testing.T) {
	d := bus.NewDispatcher()

	first := exprHook(Config{})
	second := exprHook(Config{})
	first.Attach(d)
	second.Attach(d)

	detail := &schema.EvaluateDetail{Value: `${{ vars.port }}`}
	ev := bus.NewEvent(schema.EventEvaluate, detail)
	d.Dispatch(context.Background(), ev)

	assert.True(t, ev.Claimed())
	require.NotNil(t, detail.Result)

	val, err := detail.Result.Await(awaitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 8080, val, "whole-fragment evaluation returns the raw value")

	secondBuilder := second.builder.(*stubBuilder)
	assert.Zero(t, secondBuilder.calls.Load(), "second hook never handles the claimed event")
}

func TestHandleEvaluate_RejectsOnError(t *testing.T) {
	boom := errors.New("undefined reference")
	builder := &stubBuilder{env: map[string]any{}}
	h := New(expressions.NewRenderer(&throwingEngine{err: boom}), builder, Config{}, testLogger())

	d := bus.NewDispatcher()
	h.Attach(d)

	detail := &schema.EvaluateDetail{Value: `${{ nope }}`}
	d.Dispatch(context.Background(), bus.NewEvent(schema.EventEvaluate, detail))

	require.NotNil(t, detail.Result)
	_, err := detail.Result.Await(awaitCtx(t))
	require.ErrorIs(t, err, boom)
}

func TestHandleEvaluate_ActiveInPassThroughMode(t *testing.T) {
	d := bus.NewDispatcher()
	h := exprHook(Config{PassThrough: true})
	h.Attach(d)

	detail := &schema.EvaluateDetail{Value: `${{ vars.host }}`}
	d.Dispatch(context.Background(), bus.NewEvent(schema.EventEvaluate, detail))

	require.NotNil(t, detail.Result)
	val, err := detail.Result.Await(awaitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", val)
}

func TestEvaluate_NoCacheReuseAcrossCycles(t *testing.T) {
	engine := &countingEngine{}
	builder := &stubBuilder{env: map[string]any{}}
	h := New(expressions.NewRenderer(engine), builder, Config{}, testLogger())

	for i := 0; i < 2; i++ {
		val, err := h.Evaluate(context.Background(), `${{ expensive() }}`)
		require.NoError(t, err)
		assert.Equal(t, "expensive()", val)
	}

	assert.Equal(t, int32(2), engine.calls.Load(), "each on-demand evaluation is its own cycle")
	assert.Equal(t, int32(2), builder.calls.Load())
}
