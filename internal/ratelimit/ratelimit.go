// Package ratelimit bounds REST traffic per environment with separate
// read and write token buckets. Refill is continuous and clamped at
// capacity; acquisition blocks until a token is available, so the limiter
// only ever imposes delay, never failure.
package ratelimit

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"
)

// Exchange limits: 20 reads/s and 10 writes/s, with matching burst.
const (
	ReadCapacity  = 20
	WriteCapacity = 10
)

// Buckets holds the read and write limiters for one environment.
type Buckets struct {
	reads  *rate.Limiter
	writes *rate.Limiter
}

// New creates buckets with the exchange default capacities.
func New() *Buckets {
	return NewWithLimits(ReadCapacity, WriteCapacity)
}

// NewWithLimits creates buckets with explicit per-second capacities.
// Refill rate equals capacity for both buckets.
func NewWithLimits(readCap, writeCap int) *Buckets {
	return &Buckets{
		reads:  rate.NewLimiter(rate.Limit(readCap), readCap),
		writes: rate.NewLimiter(rate.Limit(writeCap), writeCap),
	}
}

// AcquireRead blocks until a read token is available.
func (b *Buckets) AcquireRead(ctx context.Context) error {
	return b.reads.Wait(ctx)
}

// AcquireWrite blocks until a write token is available.
func (b *Buckets) AcquireWrite(ctx context.Context) error {
	return b.writes.Wait(ctx)
}

// Acquire takes one token from the bucket matching the HTTP method.
// POST and DELETE count as writes; everything else reads.
func (b *Buckets) Acquire(ctx context.Context, method string) error {
	if method == http.MethodPost || method == http.MethodDelete {
		return b.AcquireWrite(ctx)
	}
	return b.AcquireRead(ctx)
}
