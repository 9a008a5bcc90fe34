// Package throttle counts failed login attempts per identifier in a fixed window.
package throttle

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Limiter tracks failures for a key. Once Failures reaches the limit the key is locked
// until its window expires or Reset is called.
type Limiter interface {
	// Allowed reports whether key is still below the failure limit.
	Allowed(ctx context.Context, key string) (bool, error)
	// Fail records one failure. The window starts at the first failure.
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// Policy is the failure limit and window length.
type Policy struct {
	MaxFailures int
	Window      time.Duration
}

func (p Policy) Validate() error {
	if p.MaxFailures < 1 {
		return errors.New("throttle: max failures must be at least 1")
	}
	if p.Window <= 0 {
		return errors.New("throttle: window must be positive")
	}
	return nil
}

// Key normalizes a login identifier so "Alice@x" and "alice@x " share a counter.
func Key(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Disabled never throttles.
type Disabled struct{}

func (Disabled) Allowed(context.Context, string) (bool, error) { return true, nil }
func (Disabled) Fail(context.Context, string) error { return nil }
func (Disabled) Reset(context.Context, string) error { return nil }
