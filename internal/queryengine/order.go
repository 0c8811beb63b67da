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

package queryengine

import (
	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/ivm"
)

// lessFor builds the comparator ivm.Limit and ivm.View sort by from an
// AST's orderBy terms (spec §3 "orderBy?: [(column, 'asc'|'desc')]").
// A nil/empty orderBy sorts nothing; rows keep whatever order the
// View's map iteration happens to produce, matching an unordered SQL
// result set.
func lessFor(terms []ast.OrderTerm) func(a, b ivm.Row) bool {
	if len(terms) == 0 {
		return nil
	}
	return func(a, b ivm.Row) bool {
		for _, t := range terms {
			av, bv := a[t.Column.Raw()], b[t.Column.Raw()]
			if compareEqual(av, bv) {
				continue
			}
			less := compareLess(av, bv)
			if t.Direction == ast.Desc {
				less = !less && !compareEqual(av, bv)
			}
			return less
		}
		return false
	}
}

// seekPredicate turns a.Start (spec §3 "start?: {row: partial,
// exclusive: bool}") into a row predicate equivalent to the seek
// comparison `(a, b, ...) > (x, y, ...)` (or `>=` when not exclusive)
// over a's orderBy columns; orderBy columns absent from the anchor row
// are skipped. The Virtualized Window Manager supplies Start as its
// page anchor (internal/window's fetch).
func seekPredicate(a *ast.AST) func(ivm.Row) bool {
	start := a.Start
	terms := a.OrderBy
	return func(row ivm.Row) bool {
		if len(terms) == 0 {
			return true
		}
		for _, t := range terms {
			anchor, ok := start.Row[t.Column.Raw()]
			if !ok {
				continue
			}
			v := row[t.Column.Raw()]
			if compareEqual(v, anchor) {
				continue
			}
			after := compareLess(anchor, v)
			if t.Direction == ast.Desc {
				after = !after
			}
			return after
		}
		return !start.Exclusive
	}
}
