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

// Package planner builds a cost-based join ordering over a query's
// AST, consulting HyperLogLog-backed statistics for semi-join
// selectivity, and emits a reordered AST the compiler or IVM engine
// can consume (spec §4.2).
package planner

import (
	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
)

// Connection is a Planner Node variant scanning one table (spec §3).
// Planner nodes reference each other by arena index within their
// owning Graph rather than by pointer, so the graph has a single
// owner and no node can outlive it or form an ownership cycle.
type Connection struct {
	ID    int
	Table ident.Ident
	// Subquery is the ast.Subquery this connection was built from, or
	// nil for the root connection and for connections introduced by a
	// CorrelatedSubquery condition (those have no related[] slot to
	// reorder).
	Subquery *ast.Subquery
	Sort     []ast.OrderTerm
	Filters  ast.Condition
	BaseLimit *uint
	IsRoot    bool

	// Mutable search state.
	Pinned      bool
	PinOrder    int
	Constraints []Constraint
	Limit       *uint
	fanout      float64
}

// Constraint is a Planner Constraint: a column on this connection is
// known to equal a column on another connection, because some join
// pinned that relationship (spec §3).
type Constraint struct {
	Column       ident.Ident
	SourceJoinID int
	OtherColumn  ident.Ident
}

// Join is a Planner Node variant relating a parent and child
// Connection via a correlation (spec §3).
type Join struct {
	ID       int
	ParentID int
	ChildID  int
	// Correlation is always expressed parent-field -> child-field,
	// regardless of which side is currently pinned or flipped.
	Correlation ast.Correlation
	Flippable   bool
	Flipped     bool
	// Hidden marks a junction edge (spec §3); junctions impose
	// ordering and are never flippable.
	Hidden bool
	// BaseLimitOne marks an EXISTS/NOT EXISTS or singular relationship,
	// the "baseLimit=1" case spec §4.2 uses for semi-join selectivity.
	BaseLimitOne bool
	// SemiJoinSelectivity is populated once the child side is pinned,
	// for a BaseLimitOne join: the estimated probability that at least
	// one child row satisfies the child's filters for a given parent
	// row (spec §4.2, §GLOSSARY).
	SemiJoinSelectivity float64
}

// Graph owns every Connection and Join built from one AST.
type Graph struct {
	Connections []*Connection
	Joins       []*Join
	RootID      int
}

func (g *Graph) addConnection(a *ast.AST, isRoot bool, sub *ast.Subquery) int {
	id := len(g.Connections)
	g.Connections = append(g.Connections, &Connection{
		ID:        id,
		Table:     a.Table,
		Subquery:  sub,
		Sort:      a.OrderBy,
		Filters:   a.Where,
		BaseLimit: a.Limit,
		IsRoot:    isRoot,
		Limit:     a.Limit,
	})
	return id
}

func (g *Graph) addJoin(parentID, childID int, corr ast.Correlation, flippable, hidden, baseLimitOne bool) int {
	id := len(g.Joins)
	g.Joins = append(g.Joins, &Join{
		ID:           id,
		ParentID:     parentID,
		ChildID:      childID,
		Correlation:  corr,
		Flippable:    flippable && !hidden,
		Hidden:       hidden,
		BaseLimitOne: baseLimitOne,
	})
	return id
}

// buildGraph walks an AST's related[] entries and EXISTS/NOT EXISTS
// where-conditions, producing one Connection per scanned table and
// one Join per relationship (spec §4.2 step 1).
func buildGraph(a *ast.AST) *Graph {
	g := &Graph{}
	g.RootID = g.addConnection(a, true, nil)
	g.walkChildren(a, g.RootID)
	return g
}

func (g *Graph) walkChildren(a *ast.AST, parentID int) {
	for _, r := range a.Related {
		childID := g.addConnection(r.Inner, false, r)
		// A singular relationship behaves like baseLimit=1 for semi-join
		// selectivity purposes, matching an EXISTS child (spec §4.2).
		g.addJoin(parentID, childID, r.Correlation, !r.Hidden, r.Hidden, r.Singular)
		g.walkChildren(r.Inner, childID)
	}
	g.walkWhereForExists(a.Where, parentID)
}

func (g *Graph) walkWhereForExists(cond ast.Condition, parentID int) {
	switch v := cond.(type) {
	case ast.And:
		for _, inner := range v.Conditions {
			g.walkWhereForExists(inner, parentID)
		}
	case ast.Or:
		for _, inner := range v.Conditions {
			g.walkWhereForExists(inner, parentID)
		}
	case ast.CorrelatedSubquery:
		childID := g.addConnection(v.Related.Inner, false, nil)
		g.addJoin(parentID, childID, v.Related.Correlation, true, false, true)
		g.walkChildren(v.Related.Inner, childID)
	}
}
