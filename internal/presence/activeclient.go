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

package presence

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/zero-ivm/internal/util/notify"
	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// pollInterval is how often FileLockBackend.Watch retries TryRLock.
var pollInterval = 200 * time.Millisecond

func pollTicker() *time.Ticker { return time.NewTicker(pollInterval) }

// LockHandle is a held exclusive lock; Release gives it up.
type LockHandle interface {
	Release() error
}

// LockBackend is the pluggable discovery mechanism behind the
// Active-Client Manager (spec §4.9): hold an exclusive lock named
// after this client, and watch other clients' locks for release.
// FileLockBackend is the preferred, OS-level implementation;
// MemoryLockBackend is the in-process fallback (spec §4.9 "Fallback
// backend").
type LockBackend interface {
	// Acquire takes and holds an exclusive lock on name until the
	// returned handle is released.
	Acquire(name string) (LockHandle, error)
	// Watch calls onReleased exactly once, the next time name's
	// exclusive lock becomes free (including if it is already free).
	// Canceling ctx stops watching without firing onReleased.
	Watch(ctx context.Context, name string, onReleased func())
}

// FileLockBackend discovers peers via OS-level exclusive file locks
// rooted at Dir, the "preferred backend" spec §4.9 names.
type FileLockBackend struct {
	Dir string
}

func (b *FileLockBackend) path(name string) string {
	return filepath.Join(b.Dir, sanitize(name)+".lock")
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' || r == '\\' || r == ':' {
			out = append(out, '_')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

type fileLockHandle struct{ fl *flock.Flock }

func (h *fileLockHandle) Release() error { return h.fl.Unlock() }

// Acquire implements LockBackend.
func (b *FileLockBackend) Acquire(name string) (LockHandle, error) {
	fl := flock.New(b.path(name))
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return &fileLockHandle{fl: fl}, nil
}

// Watch implements LockBackend by polling a shared lock: while the
// owner holds its exclusive lock, acquiring a shared lock blocks; once
// it succeeds, the owner's lock is gone. flock's TryRLock is
// non-blocking, so Watch polls it on a short interval, stopping early
// if ctx is canceled (spec §5 "the only suspension points... lock-query
// results in the active-client manager").
func (b *FileLockBackend) Watch(ctx context.Context, name string, onReleased func()) {
	go func() {
		fl := flock.New(b.path(name))
		defer fl.Close()
		t := pollTicker()
		defer t.Stop()
		for {
			ok, err := fl.TryRLock()
			if err == nil && ok {
				_ = fl.Unlock()
				onReleased()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// MemoryLockBackend is the in-process fallback (spec §4.9): a
// process-local registry of held locks plus a notify.Var per name so
// watchers wake exactly when the lock is released, without polling.
// It is a handle, not a package-level singleton, per DESIGN NOTES §9.
type MemoryLockBackend struct {
	mu    sync.Mutex
	locks map[string]*notify.Var[bool]
}

// NewMemoryLockBackend constructs an empty in-process lock registry.
func NewMemoryLockBackend() *MemoryLockBackend {
	return &MemoryLockBackend{locks: make(map[string]*notify.Var[bool])}
}

func (b *MemoryLockBackend) varFor(name string) *notify.Var[bool] {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.locks[name]
	if !ok {
		v = notify.New(false)
		b.locks[name] = v
	}
	return v
}

type memLockHandle struct {
	v *notify.Var[bool]
}

func (h *memLockHandle) Release() error {
	h.v.Set(false)
	return nil
}

// Acquire implements LockBackend.
func (b *MemoryLockBackend) Acquire(name string) (LockHandle, error) {
	v := b.varFor(name)
	v.Set(true)
	return &memLockHandle{v: v}, nil
}

// Watch implements LockBackend.
func (b *MemoryLockBackend) Watch(ctx context.Context, name string, onReleased func()) {
	v := b.varFor(name)
	go func() {
		for {
			held, updated := v.Get()
			if !held {
				onReleased()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-updated:
			}
		}
	}()
}

// GroupBroadcast publishes new clients' lock names to every other
// manager watching the same group (spec §4.9 "A broadcast channel
// keyed by {prefix}/{groupId} publishes the new client's lock name").
// Like MemoryLockBackend, it is an explicit handle shared by
// injection, never a package singleton.
type GroupBroadcast struct {
	mu     sync.Mutex
	groups map[string]*notify.Var[[]string]
}

// NewGroupBroadcast constructs an empty broadcast registry.
func NewGroupBroadcast() *GroupBroadcast {
	return &GroupBroadcast{groups: make(map[string]*notify.Var[[]string])}
}

func (g *GroupBroadcast) varFor(key string) *notify.Var[[]string] {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.groups[key]
	if !ok {
		v = notify.New[[]string](nil)
		g.groups[key] = v
	}
	return v
}

// Publish announces that lockName joined key's group.
func (g *GroupBroadcast) Publish(key, lockName string) {
	g.varFor(key).Update(func(cur []string) []string {
		return append(append([]string(nil), cur...), lockName)
	})
}

// ActiveClientManager tracks which clients in its client-group are
// currently alive (spec §4.9). It always considers its own ClientID
// active, watches peers announced over Bus, and fires OnChange
// on every membership transition.
type ActiveClientManager struct {
	Prefix   string
	GroupID  string
	ClientID string
	Backend  LockBackend
	Bus      *GroupBroadcast
	OnChange func(active []string)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	self   LockHandle
	active map[string]bool
	seen   map[string]bool
}

// Start acquires the manager's own exclusive lock, publishes it to the
// group broadcast, subscribes to announcements of other clients, and
// begins watching every peer seen so far (spec §4.9). Close cancels
// the manager's internal context and releases its own lock.
func (a *ActiveClientManager) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.active = map[string]bool{a.ClientID: true}
	a.seen = map[string]bool{}

	name := a.lockName(a.ClientID)
	handle, err := a.Backend.Acquire(name)
	if err != nil {
		a.cancel()
		return err
	}
	a.self = handle

	a.Bus.Publish(a.groupKey(), name)
	a.watchGroup()
	a.fireChange()
	return nil
}

// Close releases this client's own lock and stops watching every peer
// (spec §4.9 "abort of the manager's signal releases all resources").
func (a *ActiveClientManager) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.self != nil {
		return a.self.Release()
	}
	return nil
}

func (a *ActiveClientManager) groupKey() string {
	return fmt.Sprintf("%s/%s", a.Prefix, a.GroupID)
}

func (a *ActiveClientManager) lockName(clientID string) string {
	return fmt.Sprintf("%s/%s/%s", a.Prefix, a.GroupID, clientID)
}

func (a *ActiveClientManager) watchGroup() {
	v := a.Bus.varFor(a.groupKey())
	go func() {
		names, updated := v.Get()
		a.watchNew(names)
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-updated:
				names, updated = v.Get()
				a.watchNew(names)
			}
		}
	}()
}

func (a *ActiveClientManager) watchNew(names []string) {
	a.mu.Lock()
	var fresh []string
	for _, name := range names {
		if !a.seen[name] {
			a.seen[name] = true
			fresh = append(fresh, name)
		}
	}
	a.mu.Unlock()

	for _, name := range fresh {
		clientID := clientIDFromLockName(name)
		if clientID == a.ClientID {
			continue
		}
		a.markActive(clientID, true)
		name := name
		a.Backend.Watch(a.ctx, name, func() {
			a.markActive(clientID, false)
		})
	}
}

func clientIDFromLockName(name string) string {
	idx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

func (a *ActiveClientManager) markActive(clientID string, active bool) {
	a.mu.Lock()
	was := a.active[clientID]
	if active {
		a.active[clientID] = true
	} else {
		delete(a.active, clientID)
	}
	changed := was != active
	a.mu.Unlock()

	if changed {
		log.WithFields(log.Fields{"client": clientID, "active": active}).
			Debug("presence: active-client membership changed")
		a.fireChange()
	}
}

// Active returns the currently live client IDs in this manager's
// group, in no particular order, always including ClientID (spec §4.9
// "this.clientId is always in the active set").
func (a *ActiveClientManager) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for id := range a.active {
		out = append(out, id)
	}
	return out
}

func (a *ActiveClientManager) fireChange() {
	if a.OnChange != nil {
		a.OnChange(a.Active())
	}
}
