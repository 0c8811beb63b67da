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

// Package queryengine builds IVM pipelines from an ast.AST (spec
// §4.2/§4.4/§6): it plans the tree, constructs the operator graph, and
// ties the view's Commit calls to the change-streamer's
// onTransactionCommit hook.
package queryengine

import (
	"sync"

	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/planner"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	log "github.com/sirupsen/logrus"
)

// Engine owns every table's Source (fed by the CRUD layer and the
// change-streamer consumer) and fans changes out to however many
// queries are currently materialized against a table, mirroring the
// teacher's single Resolvers-per-schema registry in
// internal/source/cdc/resolver.go.
type Engine struct {
	model planner.CostModel

	mu struct {
		sync.Mutex
		tables map[string]*tableEntry
	}
}

type tableEntry struct {
	source    *ivm.Source
	multicast *ivm.Multicast
}

// New constructs an Engine that plans queries against model.
func New(model planner.CostModel) *Engine {
	e := &Engine{model: model}
	e.mu.tables = make(map[string]*tableEntry)
	return e
}

// Table returns (creating if necessary) the Source backing table,
// keyed by key. Every caller sharing a table name shares the same
// underlying rows.
func (e *Engine) Table(table ident.Ident, key ivm.KeyFunc) *ivm.Source {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := table.Raw()
	entry, ok := e.mu.tables[name]
	if !ok {
		source := ivm.NewSource(key)
		mc := ivm.NewMulticast()
		source.SetOutput(mc)
		entry = &tableEntry{source: source, multicast: mc}
		e.mu.tables[name] = entry
		log.WithField("table", name).Trace("queryengine: registered source")
	}
	return entry.source
}

// subscribe wires output as an additional consumer of table's changes
// and returns the rows currently in the Source, for the caller to
// bootstrap its pipeline with synthetic Add pushes before handing
// control to live updates.
func (e *Engine) subscribe(table ident.Ident, output ivm.Operator) (rows []ivm.Row, remove func()) {
	e.mu.Lock()
	entry, ok := e.mu.tables[table.Raw()]
	e.mu.Unlock()
	if !ok {
		return nil, func() {}
	}
	return entry.source.Rows(), entry.multicast.Add(output)
}
