// Package provider calls the upstream exchange-rate API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRate = errors.New("provider returned an unusable rate")
	ErrUnavailable = errors.New("provider circuit is open")
)

// Request asks for the base/target rate. A zero Date means the current rate.
type Request struct {
	Base   string
	Target string
	Date   time.Time
	APIKey string
}

func (r Request) Pair() string {
	return r.Base + "/" + r.Target
}

// Fetcher is implemented by Client and faked in tests.
type Fetcher interface {
	FetchRate(ctx context.Context, req Request) (float64, error)
}

// Error describes a failed upstream call. Message is the provider's own
// error text when it sent one.
type Error struct {
	Pair       string
	StatusCode int
	Message    string
	// Raw is the response body, kept for logging malformed payloads.
	Raw string
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Pair, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider %s: %s", e.Pair, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
