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

package ident

// TableMap is an insertion-ordered map keyed by Table. It is used
// throughout the engine where a deterministic iteration order over
// per-table data is required (e.g. emitting related[] in a stable
// order).
type TableMap[V any] struct {
	order []Table
	data  map[string]entry[Table, V]
}

type entry[K, V any] struct {
	key K
	val V
}

// Put associates a value with a table, replacing any previous value.
func (m *TableMap[V]) Put(t Table, v V) {
	if m.data == nil {
		m.data = make(map[string]entry[Table, V])
	}
	key := t.schema.fold() + "." + t.name.fold
	if _, found := m.data[key]; !found {
		m.order = append(m.order, t)
	}
	m.data[key] = entry[Table, V]{t, v}
}

// Get returns the value for a table, if present.
func (m *TableMap[V]) Get(t Table) (V, bool) {
	var zero V
	if m.data == nil {
		return zero, false
	}
	e, ok := m.data[t.schema.fold()+"."+t.name.fold]
	if !ok {
		return zero, false
	}
	return e.val, true
}

// GetZero returns the value for a table, or the zero value if absent.
func (m *TableMap[V]) GetZero(t Table) V {
	v, _ := m.Get(t)
	return v
}

// Range iterates entries in insertion order; returning an error stops
// iteration and propagates the error to the caller.
func (m *TableMap[V]) Range(fn func(Table, V) error) error {
	for _, t := range m.order {
		v, ok := m.Get(t)
		if !ok {
			continue
		}
		if err := fn(t, v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries.
func (m *TableMap[V]) Len() int { return len(m.order) }

func (s Schema) fold() string {
	parts := make([]string, len(s.parts))
	for i, p := range s.parts {
		parts[i] = p.fold
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\x00"
		}
		out += p
	}
	return out
}

// SchemaMap is an insertion-ordered map keyed by Schema.
type SchemaMap[V any] struct {
	order []Schema
	data  map[string]entry[Schema, V]
}

// Put associates a value with a schema, replacing any previous value.
func (m *SchemaMap[V]) Put(s Schema, v V) {
	if m.data == nil {
		m.data = make(map[string]entry[Schema, V])
	}
	key := s.fold()
	if _, found := m.data[key]; !found {
		m.order = append(m.order, s)
	}
	m.data[key] = entry[Schema, V]{s, v}
}

// Get returns the value for a schema, if present.
func (m *SchemaMap[V]) Get(s Schema) (V, bool) {
	var zero V
	if m.data == nil {
		return zero, false
	}
	e, ok := m.data[s.fold()]
	if !ok {
		return zero, false
	}
	return e.val, true
}

// Range iterates entries in insertion order.
func (m *SchemaMap[V]) Range(fn func(Schema, V) error) error {
	for _, s := range m.order {
		v, ok := m.Get(s)
		if !ok {
			continue
		}
		if err := fn(s, v); err != nil {
			return err
		}
	}
	return nil
}
