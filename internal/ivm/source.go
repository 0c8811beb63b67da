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

import (
	"sort"

	"github.com/pkg/errors"
)

// Source holds an in-memory ordered set of rows keyed by primary key,
// and pushes Add/Remove/Edit changes to a single downstream output as
// its rows are mutated (spec §4.4). The CRUD Mutation Layer and the
// change-streamer consumer are the only writers; every other operator
// only reads what Source pushes.
type Source struct {
	key    KeyFunc
	rows   map[string]Row
	output Operator
}

// NewSource constructs an empty Source identified by key.
func NewSource(key KeyFunc) *Source {
	return &Source{key: key, rows: make(map[string]Row)}
}

// SetOutput wires the operator that receives every change this Source
// emits.
func (s *Source) SetOutput(output Operator) { s.output = output }

// Rows returns every row currently held, sorted by the string form of
// each row's key.
func (s *Source) Rows() []Row {
	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return s.key(out[i]) < s.key(out[j]) })
	return out
}

// Get returns the current row for key, if present.
func (s *Source) Get(key string) (Row, bool) {
	r, ok := s.rows[key]
	return r, ok
}

// Key renders row's identity the same way the Source's internal index
// does, for callers that need to address a specific row.
func (s *Source) Key(row Row) string { return s.key(row) }

// Add inserts row and pushes Add downstream. It fails if a row with
// the same key already exists; the CRUD layer's insert is the one
// place that decides whether this should instead be a silent no-op
// (spec §4.6).
func (s *Source) Add(row Row) error {
	k := s.key(row)
	if _, exists := s.rows[k]; exists {
		return errors.Errorf("ivm: row with key %q already exists", k)
	}
	s.rows[k] = row
	s.emit(Add{Row: row})
	return nil
}

// Remove deletes the row at row's key and pushes Remove downstream. It
// is a no-op if the row is already absent, mirroring the CRUD layer's
// delete semantics (spec §9 "Exceptions").
func (s *Source) Remove(row Row) {
	k := s.key(row)
	existing, ok := s.rows[k]
	if !ok {
		return
	}
	delete(s.rows, k)
	s.emit(Remove{Row: existing})
}

// Edit replaces the row at oldRow's key with row and pushes Edit
// downstream. oldRow and row must share a primary key; Edit returns an
// error otherwise. It is a no-op if the row is missing.
func (s *Source) Edit(oldRow, row Row) error {
	if s.key(oldRow) != s.key(row) {
		return errors.New("ivm: edit must not change the primary key")
	}
	k := s.key(oldRow)
	existing, ok := s.rows[k]
	if !ok {
		return nil
	}
	s.rows[k] = row
	s.emit(Edit{OldRow: existing, Row: row})
	return nil
}

func (s *Source) emit(c Change) {
	if s.output != nil {
		s.output.Push(c)
	}
}

// Fork produces an isolated snapshot Source for an optimistic
// transaction (spec §4.4, §4.6): mutations against the fork never
// reach this Source's output until the caller explicitly commits them
// by swapping the fork in.
func (s *Source) Fork() *Source {
	fork := &Source{key: s.key, rows: make(map[string]Row, len(s.rows))}
	for k, r := range s.rows {
		fork.rows[k] = r.Clone()
	}
	return fork
}

// AdoptFrom replaces s's row set with fork's, the atomic swap a
// successful transaction(cb) performs (spec §4.6). Existing
// subscribers are not notified retroactively; callers that need
// incremental consistency should diff before calling AdoptFrom and
// push the resulting changes instead.
func (s *Source) AdoptFrom(fork *Source) {
	s.rows = fork.rows
}
