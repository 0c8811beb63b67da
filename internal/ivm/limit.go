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

// Limit tracks the first N rows in parent order (spec §4.4). It keeps
// every row it has ever seen, not just the current top N, so that a
// Remove inside the window can promote the next candidate without
// re-querying upstream.
type Limit struct {
	N    uint
	Less func(a, b Row) bool
	Key  KeyFunc

	rows   []Row
	output Operator
}

// NewLimit constructs a Limit of n rows ordered by less and identified
// by key.
func NewLimit(n uint, less func(a, b Row) bool, key KeyFunc) *Limit {
	return &Limit{N: n, Less: less, Key: key}
}

// SetOutput wires the operator that receives changes to the windowed
// top-N rows.
func (l *Limit) SetOutput(output Operator) { l.output = output }

// Unlimit removes the limit entirely, the planner's unlimit() action
// for a node promoted to an outer loop (spec §4.4). Every row beyond
// the old boundary that becomes visible is emitted as an Add.
func (l *Limit) Unlimit() {
	old := l.window()
	l.N = uint(len(l.rows))
	newWindow := l.window()
	oldKeys := make(map[string]bool, len(old))
	for _, r := range old {
		oldKeys[l.Key(r)] = true
	}
	for _, r := range newWindow {
		if !oldKeys[l.Key(r)] {
			l.emit(Add{Row: r})
		}
	}
}

// Push implements Operator.
func (l *Limit) Push(c Change) {
	switch v := c.(type) {
	case Add:
		l.insert(v.Row)
	case Remove:
		l.removeRow(v.Row)
	case Edit:
		l.removeRow(v.OldRow)
		l.insert(v.Row)
	}
}

func (l *Limit) window() []Row {
	n := int(l.N)
	if n > len(l.rows) {
		n = len(l.rows)
	}
	return l.rows[:n]
}

func (l *Limit) indexOf(row Row) int {
	key := l.Key(row)
	for i, r := range l.rows {
		if l.Key(r) == key {
			return i
		}
	}
	return -1
}

func (l *Limit) insert(row Row) {
	pos := sort.Search(len(l.rows), func(i int) bool { return l.Less(row, l.rows[i]) })
	l.rows = append(l.rows, Row{})
	copy(l.rows[pos+1:], l.rows[pos:])
	l.rows[pos] = row

	if pos >= int(l.N) {
		return
	}
	l.emit(Add{Row: row})
	if len(l.rows) > int(l.N) {
		displaced := l.rows[l.N]
		l.emit(Remove{Row: displaced})
	}
}

func (l *Limit) removeRow(row Row) {
	idx := l.indexOf(row)
	if idx < 0 {
		return
	}
	wasInWindow := idx < int(l.N)
	l.rows = append(l.rows[:idx], l.rows[idx+1:]...)
	if !wasInWindow {
		return
	}
	l.emit(Remove{Row: row})
	if int(l.N-1) < len(l.rows) {
		promoted := l.rows[l.N-1]
		l.emit(Add{Row: promoted})
	}
}

func (l *Limit) emit(c Change) {
	if l.output != nil {
		l.output.Push(c)
	}
}
