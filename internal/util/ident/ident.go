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

// Package ident provides case-normalized identifiers for tables,
// columns, and schemas, plus generic maps keyed by those identifiers.
// Keeping identifiers in a dedicated type (rather than passing bare
// strings around) lets the planner, compiler, and IVM operators treat
// "table" and "Table" as the same column without re-deriving the
// normalization rule at every call site.
package ident

import (
	"strings"

	"github.com/pkg/errors"
)

// An Ident is a case-normalized name. Two Idents constructed from
// strings that differ only in case compare equal.
type Ident struct {
	raw  string
	fold string
}

// New constructs an Ident from a raw name.
func New(raw string) Ident {
	return Ident{raw: raw, fold: strings.ToLower(raw)}
}

// Raw returns the identifier exactly as it was constructed.
func (i Ident) Raw() string { return i.raw }

// Empty returns true for the zero value.
func (i Ident) Empty() bool { return i.raw == "" }

// String implements fmt.Stringer.
func (i Ident) String() string { return i.raw }

// Equal compares two Idents case-insensitively.
func (i Ident) Equal(o Ident) bool { return i.fold == o.fold }

// Table names a table within a Schema.
type Table struct {
	schema Schema
	name   Ident
}

// NewTable constructs a Table reference.
func NewTable(schema Schema, name Ident) Table {
	return Table{schema: schema, name: name}
}

// Schema returns the enclosing schema.
func (t Table) Schema() Schema { return t.schema }

// Name returns the table's own identifier, without the schema prefix.
func (t Table) Name() Ident { return t.name }

// Raw renders "schema.table" using the raw spellings of both parts.
func (t Table) Raw() string {
	if t.schema.Empty() {
		return t.name.Raw()
	}
	return t.schema.Raw() + "." + t.name.Raw()
}

// String implements fmt.Stringer.
func (t Table) String() string { return t.Raw() }

// Empty returns true for the zero value.
func (t Table) Empty() bool { return t.name.Empty() }

// Equal compares two Tables case-insensitively.
func (t Table) Equal(o Table) bool {
	return t.schema.Equal(o.schema) && t.name.Equal(o.name)
}

// Schema names a database schema (or, for client-side queries, the
// logical grouping a table belongs to).
type Schema struct {
	parts []Ident
}

// NewSchema builds a Schema from its dotted path components.
func NewSchema(parts ...Ident) Schema {
	return Schema{parts: append([]Ident(nil), parts...)}
}

// ParseSchema parses a dotted schema path such as "db.public".
func ParseSchema(raw string) (Schema, error) {
	if raw == "" {
		return Schema{}, errors.New("empty schema")
	}
	parts := strings.Split(raw, ".")
	idents := make([]Ident, len(parts))
	for i, p := range parts {
		if p == "" {
			return Schema{}, errors.Errorf("invalid schema %q", raw)
		}
		idents[i] = New(p)
	}
	return Schema{parts: idents}, nil
}

// Schema returns the receiver, so callers that hold either a Table or a
// Schema can ask for the containing Schema via a common method name.
func (s Schema) Schema() Schema { return s }

// Empty returns true for the zero value.
func (s Schema) Empty() bool { return len(s.parts) == 0 }

// Raw renders the dotted schema path.
func (s Schema) Raw() string {
	parts := make([]string, len(s.parts))
	for i, p := range s.parts {
		parts[i] = p.Raw()
	}
	return strings.Join(parts, ".")
}

// String implements fmt.Stringer.
func (s Schema) String() string { return s.Raw() }

// Equal compares two Schemas case-insensitively.
func (s Schema) Equal(o Schema) bool {
	if len(s.parts) != len(o.parts) {
		return false
	}
	for i := range s.parts {
		if !s.parts[i].Equal(o.parts[i]) {
			return false
		}
	}
	return true
}
