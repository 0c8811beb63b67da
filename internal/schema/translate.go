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

package schema

import (
	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/pkg/errors"
)

// ToServer rewrites a client-authored AST into server names, so that
// every downstream component (planner, compiler, IVM query engine)
// only ever sees server-side identifiers. It is the single seam
// spec §2 describes: nothing past this call needs to know client
// names exist.
func (m *Mapping) ToServer(a *ast.AST) (*ast.AST, error) {
	if a == nil {
		return nil, nil
	}
	clientTable := a.Table.Raw()
	serverTable, ok := m.ServerTable(clientTable)
	if !ok {
		return nil, errors.Errorf("schema: unknown table %q", clientTable)
	}

	out := &ast.AST{Table: serverTable, Start: a.Start}
	if a.Limit != nil {
		l := *a.Limit
		out.Limit = &l
	}

	where, err := m.translateCondition(clientTable, a.Where)
	if err != nil {
		return nil, err
	}
	out.Where = where

	for _, t := range a.OrderBy {
		col, ok := m.ServerColumn(clientTable, t.Column.Raw())
		if !ok {
			return nil, errors.Errorf("schema: unknown column %q on table %q", t.Column.Raw(), clientTable)
		}
		out.OrderBy = append(out.OrderBy, ast.OrderTerm{Column: col, Direction: t.Direction})
	}

	for _, r := range a.Related {
		tr, err := m.translateSubquery(clientTable, r)
		if err != nil {
			return nil, err
		}
		out.Related = append(out.Related, tr)
	}
	return out, nil
}

func (m *Mapping) translateSubquery(parentClientTable string, r *ast.Subquery) (*ast.Subquery, error) {
	inner, err := m.ToServer(r.Inner)
	if err != nil {
		return nil, err
	}
	childClientTable := r.Inner.Table.Raw()

	parentFields := make([]ident.Ident, len(r.Correlation.ParentField))
	for i, f := range r.Correlation.ParentField {
		col, ok := m.ServerColumn(parentClientTable, f.Raw())
		if !ok {
			return nil, errors.Errorf("schema: unknown column %q on table %q", f.Raw(), parentClientTable)
		}
		parentFields[i] = col
	}
	childFields := make([]ident.Ident, len(r.Correlation.ChildField))
	for i, f := range r.Correlation.ChildField {
		col, ok := m.ServerColumn(childClientTable, f.Raw())
		if !ok {
			return nil, errors.Errorf("schema: unknown column %q on table %q", f.Raw(), childClientTable)
		}
		childFields[i] = col
	}

	return &ast.Subquery{
		Alias:       r.Alias,
		Inner:       inner,
		Correlation: ast.Correlation{ParentField: parentFields, ChildField: childFields},
		Hidden:      r.Hidden,
		Singular:    r.Singular,
	}, nil
}

func (m *Mapping) translateCondition(clientTable string, c ast.Condition) (ast.Condition, error) {
	switch v := c.(type) {
	case nil:
		return nil, nil
	case ast.Simple:
		left, err := m.translateExpr(clientTable, v.Left)
		if err != nil {
			return nil, err
		}
		right, err := m.translateExpr(clientTable, v.Right)
		if err != nil {
			return nil, err
		}
		return ast.Simple{Op: v.Op, Left: left, Right: right}, nil
	case ast.And:
		conds, err := m.translateConditions(clientTable, v.Conditions)
		if err != nil {
			return nil, err
		}
		return ast.And{Conditions: conds}, nil
	case ast.Or:
		conds, err := m.translateConditions(clientTable, v.Conditions)
		if err != nil {
			return nil, err
		}
		return ast.Or{Conditions: conds}, nil
	case ast.CorrelatedSubquery:
		sub, err := m.translateSubquery(clientTable, v.Related)
		if err != nil {
			return nil, err
		}
		return ast.CorrelatedSubquery{Op: v.Op, Related: sub}, nil
	default:
		return nil, errors.Errorf("schema: unknown condition type %T", c)
	}
}

func (m *Mapping) translateConditions(clientTable string, cs []ast.Condition) ([]ast.Condition, error) {
	if cs == nil {
		return nil, nil
	}
	out := make([]ast.Condition, len(cs))
	for i, c := range cs {
		tc, err := m.translateCondition(clientTable, c)
		if err != nil {
			return nil, err
		}
		out[i] = tc
	}
	return out, nil
}

func (m *Mapping) translateExpr(clientTable string, e ast.Expr) (ast.Expr, error) {
	switch v := e.(type) {
	case nil:
		return nil, nil
	case ast.Column:
		col, ok := m.ServerColumn(clientTable, v.Name.Raw())
		if !ok {
			return nil, errors.Errorf("schema: unknown column %q on table %q", v.Name.Raw(), clientTable)
		}
		return ast.Column{Name: col}, nil
	case ast.Literal:
		return v, nil
	case ast.Static:
		return v, nil
	default:
		return nil, errors.Errorf("schema: unknown expr type %T", e)
	}
}

// FromServerRow translates a server-shaped result row's column keys
// back to client names, the inverse direction Query.run()'s caller
// needs (spec §2).
func (m *Mapping) FromServerRow(serverTable ident.Ident, row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if client, ok := m.ClientColumn(serverTable, ident.New(k)); ok {
			out[client] = v
			continue
		}
		out[k] = v
	}
	return out
}
