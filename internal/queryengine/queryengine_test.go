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

package queryengine_test

import (
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/planner"
	"github.com/cockroachdb/zero-ivm/internal/queryengine"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func keyFuncs(pk string) queryengine.KeyFuncs {
	return func(string) ivm.KeyFunc { return ivm.KeyOf(pk) }
}

func uintp(n uint) *uint { return &n }

func TestQueryRunFiltersAndOrders(t *testing.T) {
	model := planner.MapCostModel{"issue": 3}
	engine := queryengine.New(model)

	src := engine.Table(ident.New("issue"), ivm.KeyOf("id"))
	require.NoError(t, src.Add(ivm.Row{"id": "1", "title": "a", "open": true, "priority": 3}))
	require.NoError(t, src.Add(ivm.Row{"id": "2", "title": "b", "open": false, "priority": 1}))
	require.NoError(t, src.Add(ivm.Row{"id": "3", "title": "c", "open": true, "priority": 1}))

	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{Op: ast.OpEq, Left: ast.Column{Name: ident.New("open")}, Right: ast.True},
		OrderBy: []ast.OrderTerm{
			{Column: ident.New("priority"), Direction: ast.Asc},
		},
	}

	q := queryengine.New(engine, a, keyFuncs("id"))
	rows, err := q.Run()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "3", rows[0]["id"])
	require.Equal(t, "1", rows[1]["id"])
}

func TestQueryMaterializeReflectsLiveUpdates(t *testing.T) {
	model := planner.MapCostModel{"issue": 3}
	engine := queryengine.New(model)

	src := engine.Table(ident.New("issue"), ivm.KeyOf("id"))
	require.NoError(t, src.Add(ivm.Row{"id": "1", "title": "a", "open": true}))

	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{Op: ast.OpEq, Left: ast.Column{Name: ident.New("open")}, Right: ast.True},
	}
	q := queryengine.New(engine, a, keyFuncs("id"))

	view, cleanup, err := q.Materialize()
	require.NoError(t, err)
	defer cleanup()

	require.Len(t, view.Current().Rows, 1)

	require.NoError(t, src.Add(ivm.Row{"id": "2", "title": "b", "open": true}))
	require.Len(t, view.Current().Rows, 2)

	src.Remove(ivm.Row{"id": "1"})
	require.Len(t, view.Current().Rows, 1)
	require.Equal(t, "2", view.Current().Rows[0]["id"])
}

func TestQueryHonorsLimit(t *testing.T) {
	model := planner.MapCostModel{"issue": 3}
	engine := queryengine.New(model)

	src := engine.Table(ident.New("issue"), ivm.KeyOf("id"))
	require.NoError(t, src.Add(ivm.Row{"id": "1", "priority": 1}))
	require.NoError(t, src.Add(ivm.Row{"id": "2", "priority": 2}))
	require.NoError(t, src.Add(ivm.Row{"id": "3", "priority": 3}))

	a := &ast.AST{
		Table:   ident.New("issue"),
		OrderBy: []ast.OrderTerm{{Column: ident.New("priority"), Direction: ast.Asc}},
		Limit:   uintp(2),
	}
	q := queryengine.New(engine, a, keyFuncs("id"))
	rows, err := q.Run()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "1", rows[0]["id"])
	require.Equal(t, "2", rows[1]["id"])
}

func TestQueryRelatedNestsChildRowsUnderAlias(t *testing.T) {
	model := planner.MapCostModel{"issue": 2, "comment": 4}
	engine := queryengine.New(model)

	issues := engine.Table(ident.New("issue"), ivm.KeyOf("id"))
	comments := engine.Table(ident.New("comment"), ivm.KeyOf("id"))

	require.NoError(t, issues.Add(ivm.Row{"id": "1", "title": "a"}))
	require.NoError(t, comments.Add(ivm.Row{"id": "c1", "issue_id": "1", "body": "first"}))
	require.NoError(t, comments.Add(ivm.Row{"id": "c2", "issue_id": "1", "body": "second"}))

	a := &ast.AST{
		Table: ident.New("issue"),
		Related: []*ast.Subquery{
			{
				Alias: ident.New("comments"),
				Inner: &ast.AST{Table: ident.New("comment")},
				Correlation: ast.Correlation{
					ParentField: []ident.Ident{ident.New("id")},
					ChildField:  []ident.Ident{ident.New("issue_id")},
				},
			},
		},
	}
	keys := func(table string) ivm.KeyFunc {
		if table == "comment" {
			return ivm.KeyOf("id")
		}
		return ivm.KeyOf("id")
	}
	q := queryengine.New(engine, a, keys)
	rows, err := q.Run()
	require.NoError(t, err)
	require.Len(t, rows, 1)

	nested, ok := rows[0]["comments"].([]ivm.Row)
	require.True(t, ok)
	require.Len(t, nested, 2)
}
