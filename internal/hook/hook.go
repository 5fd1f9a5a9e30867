package hook

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/renvik/presend/internal/bus"
	"github.com/renvik/presend/internal/cache"
	"github.com/renvik/presend/internal/expressions"
	"github.com/renvik/presend/internal/logging"
	"github.com/renvik/presend/pkg/schema"
)

// ContextBuilder builds the evaluation context for one cycle.
// Satisfied by contextbuild.Builder.
type ContextBuilder interface {
	Build(ctx context.Context, req *schema.Request, overrides map[string]any) (map[string]any, error)
}

// Config controls hook behavior.
type Config struct {
	// PassThrough disables request rendering on the before-send event:
	// requests pass through untouched. On-demand evaluation stays active.
	PassThrough bool
}

// Hook listens for request.before_send and expression.evaluate events
// and rewrites request string fields by evaluating their templates
// against the variable context. Cache and context are scoped to one
// evaluation cycle: every cycle starts with a fresh, empty cache and
// its own context, so overlapping cycles cannot see each other's
// values and nothing leaks across cycle boundaries.
type Hook struct {
	cfg      Config
	renderer *expressions.Renderer
	builder  ContextBuilder
	logger   *slog.Logger

	detaches []func()
}

// New creates a Hook. Attach it to a dispatcher to start receiving events.
func New(renderer *expressions.Renderer, builder ContextBuilder, cfg Config, logger *slog.Logger) *Hook {
	return &Hook{
		cfg:      cfg,
		renderer: renderer,
		builder:  builder,
		logger:   logger,
	}
}

// Attach subscribes the hook's handlers to the dispatcher.
func (h *Hook) Attach(d *bus.Dispatcher) {
	h.detaches = append(h.detaches,
		d.Subscribe(schema.EventBeforeRequestSend, h.handleBeforeSend),
		d.Subscribe(schema.EventEvaluate, h.handleEvaluate),
	)
}

// Detach removes the hook's handlers. Symmetric with Attach.
func (h *Hook) Detach() {
	for _, detach := range h.detaches {
		detach()
	}
	h.detaches = nil
}

// handleBeforeSend appends the rendering work as a promise and returns
// immediately; the event dispatch is never blocked on evaluation.
func (h *Hook) handleBeforeSend(ctx context.Context, ev *bus.Event) {
	detail, ok := ev.Detail.(*schema.BeforeSendDetail)
	if !ok || detail.Request == nil {
		return
	}

	if h.cfg.PassThrough {
		detail.AppendPromise(schema.Resolved(detail.Request))
		return
	}

	p := schema.NewPromise()
	detail.AppendPromise(p)

	go func() {
		req, err := h.ProcessBeforeRequest(ctx, detail.Request, detail.Overrides)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(req)
	}()
}

// handleEvaluate claims the event exactly once, attaches the result
// promise, and evaluates in the background. A hook that loses the claim
// leaves the event alone.
func (h *Hook) handleEvaluate(ctx context.Context, ev *bus.Event) {
	detail, ok := ev.Detail.(*schema.EvaluateDetail)
	if !ok {
		return
	}
	if !ev.Claim() {
		return
	}

	p := schema.NewPromise()
	detail.Result = p

	go func() {
		val, err := h.Evaluate(ctx, detail.Value)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(val)
	}()
}

// ProcessBeforeRequest starts a fresh cycle and renders the request's
// present fields concurrently, mutating the record in place. On any
// field failure the first error is returned and the record is left
// untouched; there is no partial mutation and no cancellation of the
// in-flight sibling evaluations.
func (h *Hook) ProcessBeforeRequest(ctx context.Context, req *schema.Request, overrides map[string]any) (*schema.Request, error) {
	ctx, memo := h.beginCycle(ctx)
	ctx = logging.WithRequestName(ctx, req.Name)

	env, err := h.builder.Build(ctx, req, overrides)
	if err != nil {
		return nil, err
	}

	type fieldResult struct {
		name  string
		value string
		err   error
	}

	fields := []string{schema.FieldURL, schema.FieldMethod, schema.FieldHeaders, schema.FieldPayload}
	results := make(chan fieldResult, len(fields))

	launched := 0
	for _, name := range fields {
		ptr := *req.Field(name)
		if ptr == nil {
			continue
		}
		launched++
		go func(name, raw string) {
			val, err := h.renderer.Render(ctx, raw, env, memo)
			results <- fieldResult{name: name, value: val, err: err}
		}(name, *ptr)
	}

	rendered := make(map[string]string, launched)
	for i := 0; i < launched; i++ {
		res := <-results
		if res.err != nil {
			// First failure wins; siblings finish into the buffered
			// channel and are discarded.
			return nil, withFieldContext(res.err, res.name)
		}
		rendered[res.name] = res.value
	}

	for name, val := range rendered {
		**req.Field(name) = val
	}

	h.logger.DebugContext(ctx, "request rendered", slog.Int("fields", launched))
	return req, nil
}

// Evaluate runs one on-demand expression in its own cycle and returns
// the raw evaluated value.
func (h *Hook) Evaluate(ctx context.Context, value string) (any, error) {
	ctx, memo := h.beginCycle(ctx)

	env, err := h.builder.Build(ctx, nil, nil)
	if err != nil {
		return nil, err
	}

	return h.renderer.Eval(ctx, value, env, memo)
}

// beginCycle allocates an empty cache for the new cycle and tags the
// context with a fresh cycle ID. The cache belongs to this cycle
// alone: concurrent cycles each get their own.
func (h *Hook) beginCycle(ctx context.Context) (context.Context, *cache.Cycle) {
	return logging.WithCycleID(ctx, uuid.New().String()), cache.New()
}

// withFieldContext tags a structured error with the field that failed.
func withFieldContext(err error, field string) error {
	if perr, ok := err.(*schema.PresendError); ok && perr.Field == "" {
		return perr.WithField(field)
	}
	return err
}
