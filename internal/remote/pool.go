// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package remote

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/harvester/internal/logging"
	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/models"
)

// DefaultMaxPerKey bounds concurrent sessions against one host+port+user.
const DefaultMaxPerKey = 5

// Pool manages SFTP sessions keyed by host:port:user. Each key gets at
// most maxPerKey live sessions; Acquire blocks when the key is saturated
// until a session is released or ctx is cancelled. Idle sessions are
// reused after a liveness check.
type Pool struct {
	dialer    Dialer
	maxPerKey int

	mu     sync.Mutex
	keys   map[string]*keyPool
	closed bool
}

type keyPool struct {
	slots chan struct{}

	mu   sync.Mutex
	idle []Session
}

// NewPool creates a pool using the given dialer. maxPerKey <= 0 falls back
// to DefaultMaxPerKey.
func NewPool(dialer Dialer, maxPerKey int) *Pool {
	if maxPerKey <= 0 {
		maxPerKey = DefaultMaxPerKey
	}
	return &Pool{
		dialer:    dialer,
		maxPerKey: maxPerKey,
		keys:      make(map[string]*keyPool),
	}
}

// Acquire checks out a session for the identity's pool key. The returned
// session must be handed back with Release. A dial failure releases the
// slot before returning a *ConnectionError so a retry does not leak
// capacity.
func (p *Pool) Acquire(ctx context.Context, identity models.SourceIdentity) (Session, error) {
	key := identity.PoolKey()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	kp, ok := p.keys[key]
	if !ok {
		kp = &keyPool{slots: make(chan struct{}, p.maxPerKey)}
		p.keys[key] = kp
	}
	p.mu.Unlock()

	start := time.Now()
	select {
	case kp.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.PoolAcquireWait.Observe(time.Since(start).Seconds())

	// Reuse an idle session if any survives the liveness check.
	for {
		kp.mu.Lock()
		n := len(kp.idle)
		if n == 0 {
			kp.mu.Unlock()
			break
		}
		s := kp.idle[n-1]
		kp.idle = kp.idle[:n-1]
		kp.mu.Unlock()

		if s.Alive() {
			return s, nil
		}
		s.Close()
		metrics.PoolSessionsOpen.WithLabelValues(key).Dec()
		metrics.PoolStaleSessions.Inc()
		logging.Debug().Str("pool_key", key).Msg("discarded stale idle session")
	}

	s, err := p.dialer.Dial(ctx, identity)
	if err != nil {
		<-kp.slots
		metrics.PoolDialErrors.WithLabelValues(key).Inc()
		return nil, &ConnectionError{Key: key, Err: err}
	}
	metrics.PoolSessionsOpen.WithLabelValues(key).Inc()
	return s, nil
}

// Release returns a session to the pool. Healthy sessions go back on the
// idle stack for reuse; dead ones are closed. Either way the key's slot
// is freed.
func (p *Pool) Release(identity models.SourceIdentity, s Session) {
	key := identity.PoolKey()

	p.mu.Lock()
	kp, ok := p.keys[key]
	closed := p.closed
	p.mu.Unlock()
	if !ok {
		s.Close()
		return
	}

	if closed || !s.Alive() {
		s.Close()
		metrics.PoolSessionsOpen.WithLabelValues(key).Dec()
	} else {
		kp.mu.Lock()
		kp.idle = append(kp.idle, s)
		kp.mu.Unlock()
	}

	select {
	case <-kp.slots:
	default:
		// Release without a matching Acquire; nothing to free.
	}
}

// CloseAll closes every idle session and marks the pool closed. Sessions
// currently checked out are closed when released.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	keys := p.keys
	p.keys = make(map[string]*keyPool)
	p.mu.Unlock()

	for key, kp := range keys {
		kp.mu.Lock()
		for _, s := range kp.idle {
			s.Close()
			metrics.PoolSessionsOpen.WithLabelValues(key).Dec()
		}
		kp.idle = nil
		kp.mu.Unlock()
	}
}
