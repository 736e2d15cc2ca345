package reconcile

import (
	"context"
	"log"

	"example.com/clubactivities/internal/observability"
)

// Mutation describes one join/leave style transition to run through the
// three-phase protocol.
type Mutation struct {
	// Keys lists every cache key that embeds participation state for the
	// touched activity.
	Keys []Key

	// Optimistic rewrites a cached value to the expected post-mutation shape.
	// It must match a transition the participation state machine permits.
	Optimistic func(Key, any) any

	// Apply issues the authoritative mutation. Its error is the store's
	// verdict and is returned to the caller unchanged.
	Apply func(context.Context) error

	// Refresh reseeds the given keys from the authoritative store. It runs
	// on every settle, success or failure.
	Refresh func(context.Context, []Key) error
}

// Reconciler serialises this client's optimistic-then-reconcile cycle per
// mutation. It never orders other clients' mutations; the authoritative store
// alone decides who got the last capacity slot.
type Reconciler struct {
	cache  *Cache
	logger *log.Logger
}

// NewReconciler constructs a Reconciler over the shared cache.
func NewReconciler(cache *Cache) *Reconciler {
	return &Reconciler{
		cache:  cache,
		logger: log.New(log.Writer(), "[reconcile] ", log.LstdFlags),
	}
}

// Cache exposes the view cache for read consumers.
func (r *Reconciler) Cache() *Cache {
	return r.cache
}

// Run executes the protocol:
//
//  1. snapshot the current entries for every key the mutation touches,
//  2. apply the optimistic transition,
//  3. issue the authoritative mutation.
//
// On failure the snapshot is restored verbatim before the error surfaces. On
// settle, success or failure, every touched key is refreshed from the store, so an
// optimistic value that lost a capacity race self-heals within one cycle.
// Once phase 3 has been issued there is no client-side cancel; the mutation
// runs to completion and the refresh always happens.
func (r *Reconciler) Run(ctx context.Context, m Mutation) error {
	snap := r.cache.snapshot(m.Keys)
	r.cache.applyOptimistic(m.Keys, m.Optimistic)

	err := m.Apply(context.WithoutCancel(ctx))
	if err != nil {
		r.cache.restore(snap)
		observability.RecordReconcileRollback()
	}

	if m.Refresh != nil {
		// A stale mutation echo is never trusted; the refresh refetches the
		// authoritative state even when the optimistic value looks right.
		if refreshErr := m.Refresh(context.WithoutCancel(ctx), m.Keys); refreshErr != nil {
			r.logger.Printf("refresh after mutation failed: %v", refreshErr)
			r.cache.Drop(m.Keys...)
		}
	}

	return err
}
