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

// Package schema implements the Schema/Name Mapping component (spec
// §2): a bidirectional mapping between the names a client-side query
// uses (camelCase, app-chosen aliases) and the names the upstream
// database actually has (snake_case, possibly legacy column names).
// Every other component in the system — AST, compiler, planner, stats —
// operates on server names; this package is the only place client
// names get translated, mirroring the way the teacher's
// internal/types.SchemaData/ColData keep column metadata in one place
// rather than scattering name lookups across every consumer.
package schema

import (
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/pkg/errors"
)

// ColumnMap bidirectionally maps one table's column names.
type ColumnMap struct {
	toServer map[string]ident.Ident
	toClient map[string]string
}

// TableMapping describes one table's name translation and its column
// translations.
type TableMapping struct {
	ClientName string
	ServerName ident.Ident
	Columns    ColumnMap
}

// Mapping is the full client<->server translation table for a schema.
// It is built once (typically from a Watcher-style metadata refresh,
// spec §2's "Schema/Name Mapping") and is safe for concurrent reads
// thereafter; callers that need to react to a live schema change
// should build a new Mapping and swap it in, the same pattern
// internal/stats uses for Rebuild.
type Mapping struct {
	byClientTable map[string]*TableMapping
	byServerTable map[string]*TableMapping
}

// ColumnPair names one column's client and server spelling.
type ColumnPair struct {
	Client string
	Server string
}

// TableSpec is one table's mapping input to Build.
type TableSpec struct {
	Client  string
	Server  string
	Columns []ColumnPair
}

// Build constructs a Mapping from a list of table specs. It fails if
// two specs collide on either their client or server table name.
func Build(specs []TableSpec) (*Mapping, error) {
	m := &Mapping{
		byClientTable: make(map[string]*TableMapping, len(specs)),
		byServerTable: make(map[string]*TableMapping, len(specs)),
	}
	for _, spec := range specs {
		if _, exists := m.byClientTable[spec.Client]; exists {
			return nil, errors.Errorf("schema: duplicate client table name %q", spec.Client)
		}
		server := ident.New(spec.Server)
		if _, exists := m.byServerTable[server.Raw()]; exists {
			return nil, errors.Errorf("schema: duplicate server table name %q", spec.Server)
		}
		cols := ColumnMap{
			toServer: make(map[string]ident.Ident, len(spec.Columns)),
			toClient: make(map[string]string, len(spec.Columns)),
		}
		for _, c := range spec.Columns {
			cols.toServer[c.Client] = ident.New(c.Server)
			cols.toClient[ident.New(c.Server).Raw()] = c.Client
		}
		tm := &TableMapping{ClientName: spec.Client, ServerName: server, Columns: cols}
		m.byClientTable[spec.Client] = tm
		m.byServerTable[server.Raw()] = tm
	}
	return m, nil
}

// ServerTable translates a client-facing table name to its server
// ident.Ident, or reports ok=false if the table is unknown.
func (m *Mapping) ServerTable(clientName string) (ident.Ident, bool) {
	tm, ok := m.byClientTable[clientName]
	if !ok {
		return ident.Ident{}, false
	}
	return tm.ServerName, true
}

// ClientTable translates a server table name back to its client-facing
// name, or reports ok=false if the table is unknown.
func (m *Mapping) ClientTable(serverName ident.Ident) (string, bool) {
	tm, ok := m.byServerTable[serverName.Raw()]
	if !ok {
		return "", false
	}
	return tm.ClientName, true
}

// ServerColumn translates clientColumn on the table named
// clientTable to its server ident.Ident. It reports ok=false if
// either the table or the column is unknown.
func (m *Mapping) ServerColumn(clientTable, clientColumn string) (ident.Ident, bool) {
	tm, ok := m.byClientTable[clientTable]
	if !ok {
		return ident.Ident{}, false
	}
	col, ok := tm.Columns.toServer[clientColumn]
	return col, ok
}

// ClientColumn translates serverColumn on the table named serverTable
// back to its client-facing name. It reports ok=false if either the
// table or the column is unknown.
func (m *Mapping) ClientColumn(serverTable ident.Ident, serverColumn ident.Ident) (string, bool) {
	tm, ok := m.byServerTable[serverTable.Raw()]
	if !ok {
		return "", false
	}
	col, ok := tm.Columns.toClient[serverColumn.Raw()]
	return col, ok
}

// HasColumn implements ast.ColumnLookup against server-side names,
// letting ast.Validate check orderBy columns on an already-translated
// (server-named) AST.
func (m *Mapping) HasColumn(table ident.Ident, column ident.Ident) bool {
	tm, ok := m.byServerTable[table.Raw()]
	if !ok {
		return false
	}
	_, ok = tm.Columns.toClient[column.Raw()]
	return ok
}

// Tables returns every client-facing table name this Mapping knows,
// in no particular order.
func (m *Mapping) Tables() []string {
	out := make([]string, 0, len(m.byClientTable))
	for name := range m.byClientTable {
		out = append(out, name)
	}
	return out
}
