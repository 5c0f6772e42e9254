// Package generation defines the contract with the external image-editing
// service. Implementations drive the service; the pipeline only sees Session.
package generation

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/seedream-pipeline/internal/extraction"
)

// Invocation failures. Anything else returned by Invoke is treated as unknown.
var (
	ErrSessionExpired     = errors.New("generation session expired")
	ErrTimeout            = errors.New("generation did not complete in time")
	ErrServiceUnavailable = errors.New("generation service unavailable")
)

// Request is one edit submitted to the service.
type Request struct {
	RecordID  int64
	ImagePath string
	Prompt    string
	Style     string
	Mode      string
}

// Session is a live, authenticated handle to the service. It is acquired once
// per run and reused for every record.
type Session interface {
	// Valid reports whether the current credentials are accepted.
	Valid(ctx context.Context) (bool, error)
	// Login re-authenticates and persists the refreshed credentials.
	Login(ctx context.Context) error
	// Invoke submits req and blocks until the result is believed complete.
	// The returned page stays usable until the next Invoke or Close.
	Invoke(ctx context.Context, req Request) (extraction.Page, error)
	Close() error
}
