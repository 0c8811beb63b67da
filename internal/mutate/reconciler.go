// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package mutate

import "sync"

// PendingMutation is an optimistic mutation the Reconciler is tracking
// until the streamer's authoritative commit confirms or rejects it.
// Rollback undoes the local optimistic change; it is only invoked on
// rejection. The Reconciler does not retry a rejected mutation.
type PendingMutation struct {
	ID       string
	Rollback func(tx *Tx) error
}

// Reconciler tracks outstanding optimistic mutations keyed by an
// application-assigned id (e.g. a client-generated mutation id carried
// alongside the row) and resolves them once the authoritative change
// stream confirms or rejects the corresponding commit.
type Reconciler struct {
	registry *Registry

	mu      sync.Mutex
	pending map[string]PendingMutation
}

// NewReconciler constructs a Reconciler bound to registry, whose
// Transaction method it uses to apply rollbacks.
func NewReconciler(registry *Registry) *Reconciler {
	return &Reconciler{registry: registry, pending: make(map[string]PendingMutation)}
}

// Track registers m as applied optimistically but not yet confirmed.
func (r *Reconciler) Track(m PendingMutation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[m.ID] = m
}

// Confirm marks id as authoritatively committed: the optimistic
// mutation matched the server's outcome, so nothing further happens
// beyond forgetting it.
func (r *Reconciler) Confirm(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// Reject undoes the optimistic mutation tracked under id by running
// its Rollback inside a transaction, since the authoritative store
// did not apply it (a rejected insert, a conflicting concurrent
// update, etc). It is a no-op if id is not tracked (already resolved,
// or was never tracked to begin with).
func (r *Reconciler) Reject(id string) error {
	r.mu.Lock()
	m, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.registry.Transaction(m.Rollback)
}

// Pending reports how many optimistic mutations are awaiting
// resolution, a diagnostic hook for tests and metrics.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
