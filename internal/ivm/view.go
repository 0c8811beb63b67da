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

package ivm

import "sort"

// View is the terminal operator: it accumulates the current
// materialized shape and, on Commit, notifies its listeners with the
// new snapshot (spec §4.4). Push only updates internal state; no
// listener runs until Commit, so a transaction's data changes never
// surface as more than one commit (spec §4.4 "at-most-one commit per
// upstream transaction").
type View struct {
	Key      KeyFunc
	Less     func(a, b Row) bool
	Singular bool

	rows      map[string]Row
	dirty     bool
	listeners []func(Snapshot)
}

// Snapshot is what a View hands its listeners: either Rows (the
// ordinary case) or, for a singular view, at most one row in Row.
type Snapshot struct {
	Rows []Row
	Row  Row
}

// NewView constructs an empty View.
func NewView(key KeyFunc, less func(a, b Row) bool, singular bool) *View {
	return &View{Key: key, Less: less, Singular: singular, rows: make(map[string]Row)}
}

// Subscribe registers fn to be called on every future Commit that
// changes the materialized result, and returns a function to
// unsubscribe it.
func (v *View) Subscribe(fn func(Snapshot)) func() {
	v.listeners = append(v.listeners, fn)
	idx := len(v.listeners) - 1
	return func() {
		v.listeners[idx] = nil
	}
}

// Push implements Operator.
func (v *View) Push(c Change) {
	switch val := c.(type) {
	case Add:
		v.rows[v.Key(val.Row)] = val.Row
	case Remove:
		delete(v.rows, v.Key(val.Row))
	case Edit:
		delete(v.rows, v.Key(val.OldRow))
		v.rows[v.Key(val.Row)] = val.Row
	}
	v.dirty = true
}

// Commit flushes accumulated pushes to every subscriber exactly once,
// matching the "invoked after all pushes for that commit are drained"
// rule (spec §4.4). It is a no-op if nothing changed since the last
// Commit.
func (v *View) Commit() {
	if !v.dirty {
		return
	}
	v.dirty = false
	snap := v.snapshot()
	for _, l := range v.listeners {
		if l != nil {
			l(snap)
		}
	}
}

func (v *View) snapshot() Snapshot {
	rows := make([]Row, 0, len(v.rows))
	for _, r := range v.rows {
		rows = append(rows, r)
	}
	if v.Less != nil {
		sort.Slice(rows, func(i, j int) bool { return v.Less(rows[i], rows[j]) })
	}
	if v.Singular {
		if len(rows) > 0 {
			return Snapshot{Row: rows[0]}
		}
		return Snapshot{}
	}
	return Snapshot{Rows: rows}
}

// Current returns the view's current materialized snapshot without
// waiting for a Commit, the synchronous read Query.run() needs (spec
// §6).
func (v *View) Current() Snapshot {
	return v.snapshot()
}
