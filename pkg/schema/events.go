package schema

import "sync"

// Event names dispatched on the bus.
const (
	EventBeforeRequestSend = "request.before_send"
	EventEvaluate          = "expression.evaluate"
)

// BeforeSendDetail is the payload of a request.before_send event.
// Handlers append their work as promises and return without blocking;
// the dispatching caller joins the promise list after dispatch returns.
type BeforeSendDetail struct {
	Request   *Request
	Overrides map[string]any

	mu       sync.Mutex
	promises []*Promise
}

// AppendPromise registers a handler's pending work on the event.
func (d *BeforeSendDetail) AppendPromise(p *Promise) {
	d.mu.Lock()
	d.promises = append(d.promises, p)
	d.mu.Unlock()
}

// Promises returns a snapshot of the registered promises.
func (d *BeforeSendDetail) Promises() []*Promise {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Promise, len(d.promises))
	copy(out, d.promises)
	return out
}

// EvaluateDetail is the payload of an expression.evaluate event.
// The handler that claims the event attaches Result.
type EvaluateDetail struct {
	Value  string
	Result *Promise
}
