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
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
)

// KeyFuncs resolves the primary-key shape for a table name, the piece
// of schema knowledge the Virtualized Window Manager and Schema/Name
// Mapping layers own in the full system (spec §4.7, §4.9's sibling
// concerns); the query engine only needs it to key Sources and Joins.
type KeyFuncs func(table string) ivm.KeyFunc

// chainStage is the uniform shape every linear operator (Filter,
// Limit) and every relationship Join exposes to build: somewhere
// upstream pushes into push, and the stage's own output is wired
// downstream via setOutput.
type chainStage struct {
	push      ivm.Operator
	setOutput func(ivm.Operator)
}

func filterStage(f *ivm.Filter) chainStage {
	return chainStage{push: f, setOutput: f.SetOutput}
}

func limitStage(l *ivm.Limit) chainStage {
	return chainStage{push: l, setOutput: l.SetOutput}
}

// build constructs the operator chain for a (sub)tree rooted at a,
// wiring its final output to sink (a View, or a parent Join's
// Parent()/Child() input). It returns the operator the table's Source
// should push into, the rows currently in that Source (for bootstrap),
// and every subscription this subtree opened so the caller can tear it
// down later.
func (e *Engine) build(
	a *ast.AST, sink ivm.Operator, keys KeyFuncs,
) (head ivm.Operator, bootstrap []ivm.Row, teardown []func(), err error) {
	var stages []chainStage

	if a.Where != nil {
		stages = append(stages, filterStage(ivm.NewFilter(func(r ivm.Row) bool {
			return evalCondition(a.Where, r)
		})))
	}
	if a.Start != nil {
		stages = append(stages, filterStage(ivm.NewFilter(seekPredicate(a))))
	}

	for _, rel := range a.Related {
		stage, relTeardown, err := e.buildRelated(a.Table, rel, keys)
		if err != nil {
			return nil, nil, nil, err
		}
		teardown = append(teardown, relTeardown...)
		stages = append(stages, stage)
	}

	if len(a.OrderBy) > 0 || a.Limit != nil {
		n := unboundedLimit
		if a.Limit != nil {
			n = *a.Limit
		}
		key := keys(a.Table.Raw())
		stages = append(stages, limitStage(ivm.NewLimit(n, lessFor(a.OrderBy), key)))
	}

	// Wire stages[i] -> stages[i+1] -> sink.
	next := sink
	for i := len(stages) - 1; i >= 0; i-- {
		stages[i].setOutput(next)
		next = stages[i].push
	}
	head = next

	rows, remove := e.subscribe(a.Table, head)
	teardown = append([]func(){remove}, teardown...)
	return head, rows, teardown, nil
}

// unboundedLimit stands in for "no limit" when a Limit operator is
// needed purely to apply an ORDER BY (Limit doubles as the sort stage
// in this IVM implementation, matching spec §4.4's observation that
// ordering and windowing share one operator).
const unboundedLimit = ^uint(0) >> 1

// buildRelated constructs the chainStage for one related[] entry,
// including the junction-collapsing case (spec §3, §4.1): a hidden
// relationship with exactly one real child and no where/orderBy/limit
// of its own is flattened so that the real target's rows appear
// directly under its own alias, rather than nested one level inside a
// junction row, mirroring internal/compiler's compileJunction so that
// IVM materialization and SQL compilation agree on result shape
// (spec §8 universal property 1).
func (e *Engine) buildRelated(parentTable ident.Ident, r *ast.Subquery, keys KeyFuncs) (chainStage, []func(), error) {
	if err := checkCorrelation(r.Correlation); err != nil {
		return chainStage{}, nil, err
	}

	parentPK := keys(parentTable.Raw())

	if r.Hidden && len(r.Inner.Related) == 1 && !hasOwnPredicates(r.Inner) {
		return e.buildJunction(r, parentPK, keys)
	}

	join := ivm.NewJoin(r.Alias.Raw(), rawNames(r.Correlation.ParentField), rawNames(r.Correlation.ChildField), r.Singular, parentPK)

	var teardown []func()
	_, childRows, childTeardown, err := e.build(r.Inner, join.Child(), keys)
	if err != nil {
		return chainStage{}, nil, err
	}
	teardown = append(teardown, childTeardown...)
	for _, row := range childRows {
		join.Child().Push(ivm.Add{Row: row})
	}

	return chainStage{push: join.Parent(), setOutput: join.SetOutput}, teardown, nil
}

func (e *Engine) buildJunction(r *ast.Subquery, parentPK ivm.KeyFunc, keys KeyFuncs) (chainStage, []func(), error) {
	real := r.Inner.Related[0]
	if err := checkCorrelation(real.Correlation); err != nil {
		return chainStage{}, nil, err
	}

	const nestedField = "__junction_real"
	junctionPK := keys(r.Inner.Table.Raw())

	inner := ivm.NewJoin(nestedField, rawNames(real.Correlation.ParentField), rawNames(real.Correlation.ChildField), real.Singular, junctionPK)

	var teardown []func()
	_, realRows, realTeardown, err := e.build(real.Inner, inner.Child(), keys)
	if err != nil {
		return chainStage{}, nil, err
	}
	teardown = append(teardown, realTeardown...)
	for _, row := range realRows {
		inner.Child().Push(ivm.Add{Row: row})
	}

	exploder := ivm.NewJunctionExploder(
		nestedField, real.Singular, rawNames(r.Correlation.ChildField),
		junctionPK, keys(real.Inner.Table.Raw()))
	inner.SetOutput(exploder)

	junctionRows, remove := e.subscribe(r.Inner.Table, inner.Parent())
	teardown = append(teardown, remove)
	for _, row := range junctionRows {
		inner.Parent().Push(ivm.Add{Row: row})
	}

	outer := ivm.NewJoin(real.Alias.Raw(), rawNames(r.Correlation.ParentField), rawNames(r.Correlation.ChildField), real.Singular, parentPK)
	exploder.SetOutput(outer.Child())

	return chainStage{push: outer.Parent(), setOutput: outer.SetOutput}, teardown, nil
}

func rawNames(idents []ident.Ident) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = id.Raw()
	}
	return out
}

func hasOwnPredicates(a *ast.AST) bool {
	return a.Where != nil || len(a.OrderBy) > 0 || a.Limit != nil
}

func checkCorrelation(c ast.Correlation) error {
	if len(c.ParentField) == 0 || len(c.ParentField) != len(c.ChildField) {
		return errInvalidCorrelation
	}
	return nil
}
