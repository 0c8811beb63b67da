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

package schema_test

import (
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/schema"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func testMapping(t *testing.T) *schema.Mapping {
	t.Helper()
	m, err := schema.Build([]schema.TableSpec{
		{
			Client: "issue", Server: "zero_issue",
			Columns: []schema.ColumnPair{
				{Client: "id", Server: "id"},
				{Client: "isClosed", Server: "is_closed"},
			},
		},
		{
			Client: "comment", Server: "zero_comment",
			Columns: []schema.ColumnPair{
				{Client: "id", Server: "id"},
				{Client: "issueId", Server: "issue_id"},
			},
		},
	})
	require.NoError(t, err)
	return m
}

func TestTableAndColumnRoundTrip(t *testing.T) {
	m := testMapping(t)

	server, ok := m.ServerTable("issue")
	require.True(t, ok)
	require.Equal(t, "zero_issue", server.Raw())

	client, ok := m.ClientTable(server)
	require.True(t, ok)
	require.Equal(t, "issue", client)

	col, ok := m.ServerColumn("issue", "isClosed")
	require.True(t, ok)
	require.Equal(t, "is_closed", col.Raw())

	backCol, ok := m.ClientColumn(server, col)
	require.True(t, ok)
	require.Equal(t, "isClosed", backCol)
}

func TestDuplicateTableNamesRejected(t *testing.T) {
	_, err := schema.Build([]schema.TableSpec{
		{Client: "issue", Server: "zero_issue"},
		{Client: "issue", Server: "zero_issue_2"},
	})
	require.Error(t, err)
}

func TestToServerTranslatesWhereOrderByAndRelated(t *testing.T) {
	m := testMapping(t)

	limit := uint(10)
	clientAST := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{Op: ast.OpEq, Left: ast.Column{Name: ident.New("isClosed")}, Right: ast.False},
		OrderBy: []ast.OrderTerm{
			{Column: ident.New("id"), Direction: ast.Asc},
		},
		Limit: &limit,
		Related: []*ast.Subquery{
			{
				Alias: ident.New("comments"),
				Inner: &ast.AST{Table: ident.New("comment")},
				Correlation: ast.Correlation{
					ParentField: []ident.Ident{ident.New("id")},
					ChildField:  []ident.Ident{ident.New("issueId")},
				},
			},
		},
	}

	server, err := m.ToServer(clientAST)
	require.NoError(t, err)
	require.Equal(t, "zero_issue", server.Table.Raw())

	simple, ok := server.Where.(ast.Simple)
	require.True(t, ok)
	col, ok := simple.Left.(ast.Column)
	require.True(t, ok)
	require.Equal(t, "is_closed", col.Name.Raw())

	require.Equal(t, "id", server.OrderBy[0].Column.Raw())

	require.Len(t, server.Related, 1)
	require.Equal(t, "zero_comment", server.Related[0].Inner.Table.Raw())
	require.Equal(t, "id", server.Related[0].Correlation.ParentField[0].Raw())
	require.Equal(t, "issue_id", server.Related[0].Correlation.ChildField[0].Raw())
}

func TestToServerUnknownColumnErrors(t *testing.T) {
	m := testMapping(t)
	_, err := m.ToServer(&ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{Op: ast.OpEq, Left: ast.Column{Name: ident.New("bogus")}, Right: ast.Null},
	})
	require.Error(t, err)
}

func TestFromServerRow(t *testing.T) {
	m := testMapping(t)
	server, _ := m.ServerTable("issue")
	row := m.FromServerRow(server, map[string]any{"id": 1, "is_closed": true, "extra": "x"})
	require.Equal(t, 1, row["id"])
	require.Equal(t, true, row["isClosed"])
	require.Equal(t, "x", row["extra"])
}
