package variables

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Built-in dynamic sources for the refresher.

// TimestampSource yields the current time in RFC 3339 UTC.
func TimestampSource(_ context.Context) (any, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// UnixSource yields the current Unix timestamp in seconds.
func UnixSource(_ context.Context) (any, error) {
	return time.Now().Unix(), nil
}

// UUIDSource yields a fresh random UUID string.
func UUIDSource(_ context.Context) (any, error) {
	return uuid.New().String(), nil
}
