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

package planner

import (
	"math"
	"sort"

	"github.com/cockroachdb/zero-ivm/internal/ast"
)

// Plan selects join orderings and flip-enabled inner/outer assignment
// over ast, consulting model, and returns a reordered AST (spec
// §4.2). The Graph is returned alongside it so the IVM engine (§4.6)
// can build its operator tree with each join's resolved Flipped state
// without re-deriving it from the AST.
func Plan(a *ast.AST, model CostModel) (*ast.AST, *Graph, error) {
	g := buildGraph(a)

	connByNode := make(map[*ast.AST]*Connection, len(g.Connections))
	for _, c := range g.Connections {
		connByNode[nodeOf(a, g, c)] = c
	}

	if err := pin(g, model); err != nil {
		return nil, nil, err
	}

	for _, j := range g.Joins {
		if j.Flippable && g.Connections[j.ChildID].PinOrder < g.Connections[j.ParentID].PinOrder {
			j.Flipped = true
		}
	}

	out := a.Clone()
	reorderRelated(a, out, connByNode)

	return out, g, nil
}

// nodeOf recovers the *ast.AST a Connection was built from: the root
// AST itself, or (for related[]-derived connections) the owning
// Subquery's Inner. EXISTS-derived connections have no Subquery, so
// nodeOf returns nil for them.
func nodeOf(root *ast.AST, g *Graph, c *Connection) *ast.AST {
	if c.IsRoot {
		return root
	}
	if c.Subquery != nil {
		return c.Subquery.Inner
	}
	return nil
}

// pin repeatedly selects the cheapest unpinned connection, pins it,
// and propagates constraints and semi-join discounts outward along
// its joins (spec §4.2 steps 2-4).
func pin(g *Graph, model CostModel) error {
	unpinned := len(g.Connections)
	order := 0
	for unpinned > 0 {
		best := cheapestUnpinned(g, model)
		if best == nil {
			return unsatisfiable("no unpinned connection reachable")
		}
		best.Pinned = true
		best.PinOrder = order
		order++
		unpinned--

		for _, j := range g.Joins {
			var otherID int
			switch best.ID {
			case j.ParentID:
				otherID = j.ChildID
			case j.ChildID:
				otherID = j.ParentID
			default:
				continue
			}
			other := g.Connections[otherID]
			if other.Pinned {
				continue
			}
			propagateConstraint(j, best, other)
			if j.BaseLimitOne {
				applySemiJoinDiscount(j, g, model, best, other)
			}
		}
	}
	return nil
}

func cheapestUnpinned(g *Graph, model CostModel) *Connection {
	var best *Connection
	bestCost := math.Inf(1)
	for _, c := range g.Connections {
		if c.Pinned {
			continue
		}
		cost := c.cost(model)
		if cost < bestCost {
			bestCost = cost
			best = c
		}
	}
	return best
}

// propagateConstraint records, on the not-yet-pinned side of a join,
// the equality the now-pinned side establishes (spec §3 Planner
// Constraint, §4.2 step 3).
func propagateConstraint(j *Join, pinned, other *Connection) {
	for i := range j.Correlation.ParentField {
		parentCol := j.Correlation.ParentField[i]
		childCol := j.Correlation.ChildField[i]
		if other.ID == j.ChildID {
			other.Constraints = append(other.Constraints, Constraint{
				Column: childCol, SourceJoinID: j.ID, OtherColumn: parentCol,
			})
		} else {
			other.Constraints = append(other.Constraints, Constraint{
				Column: parentCol, SourceJoinID: j.ID, OtherColumn: childCol,
			})
		}
	}
}

// applySemiJoinDiscount estimates semiJoinSelectivity for a baseLimit=1
// join once its child side is known, and stores the estimate both on
// the Join (for the IVM engine) and as a cost discount on the parent
// connection so later pinning decisions don't overestimate how many
// parent rows the EXISTS filter will retain (spec §4.2).
func applySemiJoinDiscount(j *Join, g *Graph, model CostModel, pinned, other *Connection) {
	if pinned.ID != j.ChildID {
		return
	}
	child := g.Connections[j.ChildID]
	parent := g.Connections[j.ParentID]

	filterSelectivity := model.FilterSelectivity(child.Table)
	fanOut := 1.0
	if len(j.Correlation.ParentField) > 0 {
		fanOut = model.Fanout(parent.Table, j.Correlation.ParentField[0])
	}
	selectivity := 1 - math.Pow(1-filterSelectivity, fanOut)
	j.SemiJoinSelectivity = selectivity

	if other.ID == parent.ID {
		parent.semiJoinDiscount(selectivity)
	}
}

func (c *Connection) semiJoinDiscount(selectivity float64) {
	if c.fanout == 0 {
		c.fanout = 1
	}
	c.fanout *= clamp01(selectivity)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cost estimates the current scan cost of c under its accumulated
// constraints, limit, and semi-join discount (spec §4.2 "recompute
// affected connections' costs").
func (c *Connection) cost(model CostModel) float64 {
	base := model.EstimatedRows(c.Table)

	if c.Limit != nil && float64(*c.Limit) < base {
		base = float64(*c.Limit)
	}
	for _, con := range c.Constraints {
		if fo := model.Fanout(c.Table, con.Column); fo > 0 && fo < base {
			base = fo
		}
	}
	if c.fanout > 0 && c.fanout < 1 {
		base *= c.fanout
	}
	return base
}

// reorderRelated walks orig and out (out == orig.Clone()) in lockstep
// and sorts each level's related[] by ascending pin order, per spec
// §4.2 step 5 ("the pinned frontier dictates related[] ordering").
// EXISTS conditions in where are left untouched since they have no
// related[] slot to reorder.
func reorderRelated(orig, out *ast.AST, connByNode map[*ast.AST]*Connection) {
	if len(orig.Related) == 0 {
		return
	}

	perm := make([]int, len(orig.Related))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		ci := connByNode[orig.Related[perm[i]].Inner]
		cj := connByNode[orig.Related[perm[j]].Inner]
		return pinOrderOf(ci) < pinOrderOf(cj)
	})

	reordered := make([]*ast.Subquery, len(out.Related))
	for newIdx, origIdx := range perm {
		reordered[newIdx] = out.Related[origIdx]
	}
	out.Related = reordered

	for i, origIdx := range perm {
		reorderRelated(orig.Related[origIdx].Inner, out.Related[i].Inner, connByNode)
	}
}

func pinOrderOf(c *Connection) int {
	if c == nil {
		return math.MaxInt32
	}
	return c.PinOrder
}
