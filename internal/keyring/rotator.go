// Package keyring hands out provider API keys in round-robin order.
package keyring

import (
	"errors"
	"sync/atomic"
)

var ErrEmptyPool = errors.New("keyring: key pool is empty")

// Rotator returns each key for `perKey` consecutive requests before moving
// to the next one, wrapping at the end of the pool. Safe for concurrent use.
type Rotator struct {
	keys    []string
	perKey  uint64
	counter atomic.Uint64
}

func New(keys []string, perKey int) (*Rotator, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyPool
	}
	if perKey < 1 {
		perKey = 1
	}

	pool := make([]string, len(keys))
	copy(pool, keys)

	return &Rotator{keys: pool, perKey: uint64(perKey)}, nil
}

// Next returns the key for this request
func (r *Rotator) Next() string {
	n := r.counter.Add(1) - 1
	return r.keys[(n/r.perKey)%uint64(len(r.keys))]
}

func (r *Rotator) Size() int {
	return len(r.keys)
}

// Issued returns how many keys have been handed out since start.
func (r *Rotator) Issued() uint64 {
	return r.counter.Load()
}
