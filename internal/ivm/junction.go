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

// JunctionExploder sits between a junction-row Join (parent: the
// junction table, nested field: the real target's matched rows) and
// an outer Join that correlates the junction row back to the logical
// parent (spec §3 "Junction", §4.1). It re-shapes each junction row
// into zero or more synthetic rows — one per nested real row, tagged
// with the junction row's own correlation columns — so the outer Join
// can nest them directly under the real relationship's alias without
// ever exposing the junction row itself, matching the compiler's
// collapsed-junction output shape (internal/compiler's compileJunction)
// for the IVM materialization path.
type JunctionExploder struct {
	// NestedField is the field under which the upstream Join nested
	// the real target's row(s) on the junction row.
	NestedField string
	// Singular mirrors the real target's Subquery.Singular: NestedField
	// holds a single Row (or nil) rather than a []Row.
	Singular bool
	// CopyCols are copied from the junction row onto every exploded
	// synthetic row; they are the columns the outer Join correlates on.
	CopyCols []string
	// JunctionKey identifies a junction row for Edit diffing.
	JunctionKey KeyFunc
	// RealKey identifies a real row within one junction row's nested set.
	RealKey KeyFunc

	// emitted[junctionKey][realKey] is the last synthetic row emitted
	// for that (junction row, real row) pair.
	emitted map[string]map[string]Row
	output  Operator
}

// NewJunctionExploder constructs a JunctionExploder.
func NewJunctionExploder(nestedField string, singular bool, copyCols []string, junctionKey, realKey KeyFunc) *JunctionExploder {
	return &JunctionExploder{
		NestedField: nestedField,
		Singular:    singular,
		CopyCols:    copyCols,
		JunctionKey: junctionKey,
		RealKey:     realKey,
		emitted:     make(map[string]map[string]Row),
	}
}

// SetOutput wires the operator that receives exploded synthetic rows.
func (e *JunctionExploder) SetOutput(output Operator) { e.output = output }

func (e *JunctionExploder) nested(row Row) []Row {
	val, ok := row[e.NestedField]
	if !ok || val == nil {
		return nil
	}
	if e.Singular {
		if r, ok := val.(Row); ok {
			return []Row{r}
		}
		return nil
	}
	rows, _ := val.([]Row)
	return rows
}

func (e *JunctionExploder) synthesize(junctionRow, realRow Row) Row {
	out := realRow.Clone()
	for _, c := range e.CopyCols {
		out[c] = junctionRow[c]
	}
	return out
}

// Push implements Operator.
func (e *JunctionExploder) Push(c Change) {
	switch v := c.(type) {
	case Add:
		e.explode(v.Row, nil)
	case Remove:
		e.retract(v.Row)
	case Edit:
		e.explode(v.Row, v.OldRow)
	}
}

func (e *JunctionExploder) explode(row, oldRow Row) {
	jk := e.JunctionKey(row)
	prev, ok := e.emitted[jk]
	if !ok {
		prev = make(map[string]Row)
	}
	next := make(map[string]Row)
	for _, real := range e.nested(row) {
		rk := e.RealKey(real)
		synthetic := e.synthesize(row, real)
		next[rk] = synthetic
		if old, had := prev[rk]; had {
			e.emit(Edit{OldRow: old, Row: synthetic})
		} else {
			e.emit(Add{Row: synthetic})
		}
	}
	for rk, old := range prev {
		if _, still := next[rk]; !still {
			e.emit(Remove{Row: old})
		}
	}
	e.emitted[jk] = next
	_ = oldRow
}

func (e *JunctionExploder) retract(row Row) {
	jk := e.JunctionKey(row)
	prev, ok := e.emitted[jk]
	if !ok {
		return
	}
	for _, old := range prev {
		e.emit(Remove{Row: old})
	}
	delete(e.emitted, jk)
}

func (e *JunctionExploder) emit(c Change) {
	if e.output != nil {
		e.output.Push(c)
	}
}
