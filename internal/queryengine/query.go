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
	"sync"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/planner"
	"github.com/pkg/errors"
)

// errInvalidCorrelation mirrors the compiler's InvalidCorrelation kind (spec
// §4.1 CompileError.InvalidCorrelation); the query engine rejects the
// same malformed trees the compiler would.
var errInvalidCorrelation = errors.New("queryengine: invalid correlation")

// Query is a planned, not-yet-materialized AST bound to an Engine
// (spec §6 "Query.materialize() -> View"). Queries are cheap to build;
// planning and pipeline construction happen in Materialize.
type Query struct {
	engine *Engine
	ast    *ast.AST
	keys   KeyFuncs
}

// New builds a Query from ast over engine, resolving table primary
// keys via keys.
func New(engine *Engine, a *ast.AST, keys KeyFuncs) *Query {
	return &Query{engine: engine, ast: a, keys: keys}
}

// Materialize plans q's AST and constructs its IVM pipeline, wiring
// its root View to the engine's live Sources. The returned cleanup
// func tears down every subscription the pipeline opened; callers must
// call it when the View is no longer needed (spec §3 "the view owns
// the tree and destroys it on release").
func (q *Query) Materialize() (*ivm.View, func(), error) {
	planned, _, err := planner.Plan(q.ast, q.engine.model)
	if err != nil {
		return nil, nil, errors.Wrap(err, "queryengine: plan")
	}

	key := q.keys(planned.Table.Raw())
	view := ivm.NewView(key, lessFor(planned.OrderBy), false)

	head, bootstrap, teardown, err := q.engine.build(planned, view, q.keys)
	if err != nil {
		for _, t := range teardown {
			t()
		}
		return nil, nil, err
	}
	for _, row := range bootstrap {
		head.Push(ivm.Add{Row: row})
	}
	view.Commit()

	cleanup := func() {
		for _, t := range teardown {
			t()
		}
	}
	return view, cleanup, nil
}

// Run materializes q, takes a single synchronous snapshot of its
// current result, and tears the pipeline back down (spec §6
// "Query.run() -> rows | row | undefined"). It is not meant for
// queries a caller intends to keep live; use Materialize for that.
func (q *Query) Run() ([]ivm.Row, error) {
	view, cleanup, err := q.Materialize()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return view.Current().Rows, nil
}

// Preload materializes q purely to warm the engine's Sources and
// caches (spec §6 "Query.preload() -> {cleanup(), complete}"): the
// returned channel is closed once the first commit has been observed,
// and cleanup releases the subscription without the caller ever
// reading a snapshot.
func (q *Query) Preload() (cleanup func(), complete <-chan struct{}, err error) {
	view, teardown, err := q.Materialize()
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	var once sync.Once
	view.Subscribe(func(ivm.Snapshot) {
		once.Do(func() { close(done) })
	})
	// A view that never changes after the bootstrap Commit above still
	// counts as preloaded; fire complete immediately in that case.
	once.Do(func() { close(done) })
	return teardown, done, nil
}
