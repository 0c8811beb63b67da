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

// Package ivm implements the incremental view maintenance pipeline
// (spec §4.4): sources, filters, joins, limits, and view outputs that
// accept add/remove/edit changes and keep a materialized result
// consistent with at most one commit per upstream transaction.
package ivm

import "fmt"

// Row is a mapping from column name to primitive value. All rows from
// one Source conform to a single fixed column schema (spec §3).
type Row map[string]any

// Clone returns a shallow copy of r, safe to mutate independently.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Change is the sum type every operator pushes and emits: Add,
// Remove, or Edit (spec §3).
type Change interface {
	isChange()
}

// Add announces a new row.
type Add struct{ Row Row }

func (Add) isChange() {}

// Remove announces a row's deletion.
type Remove struct{ Row Row }

func (Remove) isChange() {}

// Edit announces a row update. OldRow and Row must share the same
// primary key (spec §3 Change invariant).
type Edit struct {
	OldRow Row
	Row    Row
}

func (Edit) isChange() {}

// Operator is the common capability every IVM node exposes: accept one
// Change and forward zero or more Changes to its configured output
// (spec §9 "tagged variant with a common push capability"). Source is
// the only operator with no upstream; everything else is wired as
// another operator's Output.
type Operator interface {
	Push(c Change)
}

// KeyFunc extracts a row's unique identity (typically its primary
// key, rendered as a comparable string) for use by Join and Limit to
// track rows across Add/Remove/Edit.
type KeyFunc func(Row) string

// KeyOf builds a KeyFunc from an ordered list of column names, the
// common case of a single- or multi-column primary key.
func KeyOf(columns ...string) KeyFunc {
	return func(r Row) string {
		key := ""
		for i, c := range columns {
			if i > 0 {
				key += "\x1f"
			}
			key += fmt.Sprintf("%v", r[c])
		}
		return key
	}
}
