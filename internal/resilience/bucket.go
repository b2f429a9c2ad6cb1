// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// Bucket is a token bucket bounding the rate of calls against one remote
// resource. Game server hosts throttle SFTP aggressively, so every remote
// operation waits on the source's bucket before dialing or reading.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket creates a bucket refilling at perSecond tokens per second with
// the given burst capacity. The defaults used for SFTP hosts are 5/s with a
// burst of 5, mirroring the per-connection limits observed on game hosts.
func NewBucket(perSecond float64, burst int) *Bucket {
	if burst < 1 {
		burst = 1
	}
	return &Bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or ctx is canceled.
func (b *Bucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if so.
func (b *Bucket) Allow() bool {
	return b.limiter.Allow()
}
