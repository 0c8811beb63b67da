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

import "github.com/cockroachdb/zero-ivm/internal/util/ident"

// CostModel estimates the unconstrained scan cost of a table and, when
// stats are available, the selectivity of a filtered child relation.
// Plan consults a CostModel once per unpinned Connection on every
// pinning iteration, so implementations should cache expensive lookups
// internally. table is the bare identifier an ast.AST carries, matching
// ast.AST.Table's type.
type CostModel interface {
	// EstimatedRows returns the expected row count of table with no
	// constraints applied.
	EstimatedRows(table ident.Ident) float64
	// FilterSelectivity returns rowsWithFilters/rowsWithoutFilters for
	// table under filters, used for semi-join selectivity (spec §4.2).
	// A CostModel with no filter statistics may always return 1.
	FilterSelectivity(table ident.Ident) float64
	// Fanout returns the average number of child rows per parent row
	// for a correlation's child column, as stats.Manager.Fanout would
	// report it. A CostModel with no column-level stats may return 1.
	Fanout(table ident.Ident, column ident.Ident) float64
}

// MapCostModel is a CostModel keyed by bare table name, the shape
// spec §8's scenario S2 names directly ("cost model {track:5000,
// album:100}"). It reports a FilterSelectivity and Fanout of 1 for
// every table, i.e. no additional statistics beyond raw row counts.
type MapCostModel map[string]float64

// EstimatedRows implements CostModel.
func (m MapCostModel) EstimatedRows(table ident.Ident) float64 {
	return m[table.Raw()]
}

// FilterSelectivity implements CostModel.
func (m MapCostModel) FilterSelectivity(ident.Ident) float64 { return 1 }

// Fanout implements CostModel.
func (m MapCostModel) Fanout(ident.Ident, ident.Ident) float64 { return 1 }

// StatsCostModel layers stats.Manager-backed fanout estimates over a
// base row-count model, the combination spec §4.2's semi-join
// selectivity formula needs in production (rather than the bare
// scenario-test MapCostModel above). Stats is satisfied by
// *stats.Manager, which keys fanout by a schema-qualified
// ident.Table; unqualifiedSchema names the schema to assume for the
// planner's bare table identifiers (typically the default/public
// schema the query's tables live in).
type StatsCostModel struct {
	Rows             map[string]float64
	Stats            statsFanout
	UnqualifiedSchema ident.Schema
}

type statsFanout interface {
	Fanout(table ident.Table, column ident.Ident) float64
}

// EstimatedRows implements CostModel.
func (m StatsCostModel) EstimatedRows(table ident.Ident) float64 {
	return m.Rows[table.Raw()]
}

// FilterSelectivity implements CostModel. Without a dedicated
// histogram this defaults to 1 (no reduction); callers that have
// richer per-predicate statistics should provide their own CostModel.
func (m StatsCostModel) FilterSelectivity(ident.Ident) float64 { return 1 }

// Fanout implements CostModel, delegating to the wrapped stats source.
func (m StatsCostModel) Fanout(table, column ident.Ident) float64 {
	if m.Stats == nil {
		return 1
	}
	return m.Stats.Fanout(ident.NewTable(m.UnqualifiedSchema, table), column)
}
