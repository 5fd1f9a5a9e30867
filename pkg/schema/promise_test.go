package schema

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromiseResolve(t *testing.T) {
	p := NewPromise()

	go p.Resolve(42)

	val, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.True(t, p.Settled())
}

func TestPromiseReject(t *testing.T) {
	boom := errors.New("boom")
	p := NewPromise()
	p.Reject(boom)

	_, err := p.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPromiseSettleOnce(t *testing.T) {
	p := NewPromise()
	p.Resolve("first")
	p.Resolve("second")
	p.Reject(errors.New("late"))

	val, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", val)
}

func TestPromiseAwaitHonorsContext(t *testing.T) {
	p := NewPromise() // never settled

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolvedAndRejected(t *testing.T) {
	val, err := Resolved("x").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", val)

	boom := errors.New("boom")
	_, err = Rejected(boom).Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestBeforeSendDetailConcurrentAppend(t *testing.T) {
	detail := &BeforeSendDetail{Request: &Request{URL: Str("x")}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			detail.AppendPromise(Resolved(nil))
		}()
	}
	wg.Wait()

	assert.Len(t, detail.Promises(), 8)
}

func TestRequestFieldAccess(t *testing.T) {
	req := &Request{URL: Str("u"), Payload: Str("p")}

	assert.Equal(t, "u", **req.Field(FieldURL))
	assert.Nil(t, *req.Field(FieldMethod))
	assert.Nil(t, req.Field("bogus"))

	*req.Field(FieldURL) = Str("changed")
	assert.Equal(t, "changed", *req.URL)
}

func TestRequestClone(t *testing.T) {
	req := &Request{Name: "r", URL: Str("u"), Headers: Str("h")}
	cp := req.Clone()

	*cp.URL = "other"
	assert.Equal(t, "u", *req.URL, "clone does not alias the original")
	assert.Nil(t, cp.Method)
	assert.Equal(t, "h", *cp.Headers)

	assert.Nil(t, (*Request)(nil).Clone())
}
