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

import (
	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
)

// Schema describes the columns a Table accepts, the minimal piece of
// schema-awareness spec §4.6 requires ("fill any unspecified optional
// columns with null").
type Schema struct {
	// Columns lists every column name the table accepts, in no
	// particular order.
	Columns []string
	// Required lists the subset of Columns that insert/upsert must
	// not leave unset.
	Required []string
}

func (s Schema) fillDefaults(row ivm.Row) ivm.Row {
	out := row.Clone()
	for _, c := range s.Columns {
		if _, ok := out[c]; !ok {
			out[c] = nil
		}
	}
	return out
}

func (s Schema) validate(table string, row ivm.Row) error {
	for _, c := range s.Required {
		if v, ok := row[c]; !ok || v == nil {
			return &SchemaViolationError{Table: table, Column: c, Reason: "required column missing"}
		}
	}
	return nil
}

// Table is a schema-aware CRUD façade over one ivm.Source (spec §4.6).
type Table struct {
	Name   ident.Ident
	Source *ivm.Source
	Schema Schema
}

// NewTable constructs a Table backed by a fresh, empty Source keyed by
// key.
func NewTable(name ident.Ident, key ivm.KeyFunc, schema Schema) *Table {
	return &Table{Name: name, Source: ivm.NewSource(key), Schema: schema}
}

// Insert adds row if no row with its primary key exists; it is a
// no-op otherwise (spec §4.6 "insert: if row with primary key exists
// -> no-op").
func (t *Table) Insert(row ivm.Row) error {
	row = t.Schema.fillDefaults(row)
	if err := t.Schema.validate(t.Name.Raw(), row); err != nil {
		return err
	}
	if _, exists := t.Source.Get(t.Source.Key(row)); exists {
		return nil
	}
	return t.Source.Add(row)
}

// UpsertOptions configures Upsert's conflict detection (spec §4.6
// "if onConflict: [cols] is given, conflict detection uses that set").
type UpsertOptions struct {
	OnConflict []string
}

// Upsert inserts row, or merges it into the conflicting row if one
// exists. Conflict is detected on the primary key unless
// opts.OnConflict names a different column set.
func (t *Table) Upsert(row ivm.Row, opts UpsertOptions) error {
	if len(opts.OnConflict) == 0 {
		existing, ok := t.Source.Get(t.Source.Key(row))
		if !ok {
			return t.Insert(row)
		}
		return t.Source.Edit(existing, merge(existing, row))
	}

	for _, existing := range t.Source.Rows() {
		if conflicts(existing, row, opts.OnConflict) {
			// Merge every column except those that would change the
			// existing row's primary key.
			merged := existing.Clone()
			for k, v := range row {
				prev := merged[k]
				if merged[k] = v; t.Source.Key(merged) != t.Source.Key(existing) {
					merged[k] = prev
				}
			}
			return t.Source.Edit(existing, merged)
		}
	}
	return t.Insert(row)
}

// Update merges changes into the row identified by key, pushing an
// Edit; it is a no-op if the row is missing (spec §4.6, §9
// "Exceptions").
func (t *Table) Update(key ivm.Row, changes ivm.Row) error {
	existing, ok := t.Source.Get(t.Source.Key(key))
	if !ok {
		return nil
	}
	return t.Source.Edit(existing, merge(existing, changes))
}

// Delete removes the row identified by key, pushing a Remove; it is a
// no-op if the row is missing (spec §4.6, §9 "Exceptions").
func (t *Table) Delete(key ivm.Row) {
	existing, ok := t.Source.Get(t.Source.Key(key))
	if !ok {
		return
	}
	t.Source.Remove(existing)
}

func merge(oldRow, changes ivm.Row) ivm.Row {
	out := oldRow.Clone()
	for k, v := range changes {
		out[k] = v
	}
	return out
}

func conflicts(row, candidate ivm.Row, cols []string) bool {
	for _, c := range cols {
		if row[c] != candidate[c] {
			return false
		}
	}
	return true
}
