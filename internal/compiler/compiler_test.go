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

package compiler_test

import (
	"errors"
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/compiler"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/stretchr/testify/require"
)

// TestS1IsNullCompilesToDistinctFrom reproduces the spec's S1 testable
// property: `closed IS NULL` must lower to the three-valued-logic-safe
// `IS NOT DISTINCT FROM` form, with NULL bound as a parameter rather
// than inlined.
func TestS1IsNullCompilesToDistinctFrom(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{
			Op:    ast.OpIs,
			Left:  ast.Column{Name: ident.New("closed")},
			Right: ast.Null,
		},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, `"closed" IS NOT DISTINCT FROM $1`)
	require.Equal(t, []any{nil}, q.Params)
}

func TestIsNotCompilesToDistinctFrom(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{
			Op:    ast.OpIsNot,
			Left:  ast.Column{Name: ident.New("closed")},
			Right: ast.True,
		},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, `"closed" IS DISTINCT FROM $1`)
	require.Equal(t, []any{true}, q.Params)
}

func TestInRewritesToEqualsAny(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{
			Op:    ast.OpIn,
			Left:  ast.Column{Name: ident.New("status")},
			Right: ast.Literal{Value: []any{"open", "closed"}},
		},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, `"status" = ANY($1)`)
	require.Equal(t, []any{[]any{"open", "closed"}}, q.Params)
}

func TestNotInRewritesToNotEqualsAny(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{
			Op:    ast.OpNotIn,
			Left:  ast.Column{Name: ident.New("status")},
			Right: ast.Literal{Value: []any{"wontfix"}},
		},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, `"status" != ANY($1)`)
}

func TestStaticParameterBound(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{
			Op:    ast.OpEq,
			Left:  ast.Column{Name: ident.New("owner_id")},
			Right: ast.Static{Name: "userID"},
		},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, map[string]any{"userID": "u-1"})
	require.NoError(t, err)
	require.Contains(t, q.SQL, `"owner_id" = $1`)
	require.Equal(t, []any{"u-1"}, q.Params)
}

func TestStaticParameterUnboundFails(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.Simple{
			Op:    ast.OpEq,
			Left:  ast.Column{Name: ident.New("owner_id")},
			Right: ast.Static{Name: "userID"},
		},
	}

	_, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.Error(t, err)

	var ce *compiler.CompileError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, compiler.UnboundStaticParameter, ce.Kind)
}

func TestAndOrConjunctions(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.And{Conditions: []ast.Condition{
			ast.Simple{Op: ast.OpEq, Left: ast.Column{Name: ident.New("closed")}, Right: ast.False},
			ast.Or{Conditions: []ast.Condition{
				ast.Simple{Op: ast.OpEq, Left: ast.Column{Name: ident.New("priority")}, Right: ast.Literal{Value: "high"}},
				ast.Simple{Op: ast.OpEq, Left: ast.Column{Name: ident.New("priority")}, Right: ast.Literal{Value: "urgent"}},
			}},
		}},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, " AND ")
	require.Contains(t, q.SQL, " OR ")
	require.Len(t, q.Params, 3)
}

func TestEmptyAndIsVacuouslyTrue(t *testing.T) {
	a := &ast.AST{Table: ident.New("issue"), Where: ast.And{}}
	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "WHERE TRUE")
}

func TestCorrelatedSubqueryExists(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Where: ast.CorrelatedSubquery{
			Op: ast.OpExists,
			Related: &ast.Subquery{
				Alias: ident.New("comments"),
				Inner: &ast.AST{
					Table: ident.New("comment"),
					Where: ast.Simple{
						Op:    ast.OpEq,
						Left:  ast.Column{Name: ident.New("author")},
						Right: ast.Literal{Value: "bot"},
					},
				},
				Correlation: ast.Correlation{
					ParentField: []ident.Ident{ident.New("id")},
					ChildField:  []ident.Ident{ident.New("issue_id")},
				},
			},
		},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "EXISTS (SELECT")
	require.Contains(t, q.SQL, `"issue"."id" = "comments"."issue_id"`)
}

func TestRelatedSingularUsesRowToJSON(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Related: []*ast.Subquery{{
			Alias:    ident.New("owner"),
			Inner:    &ast.AST{Table: ident.New("user")},
			Singular: true,
			Correlation: ast.Correlation{
				ParentField: []ident.Ident{ident.New("owner_id")},
				ChildField:  []ident.Ident{ident.New("id")},
			},
		}},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "row_to_json(r)")
	require.Contains(t, q.SQL, `AS "owner"`)
	require.Contains(t, q.SQL, "LIMIT 1")
}

func TestRelatedPluralUsesArrayAgg(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Related: []*ast.Subquery{{
			Alias: ident.New("labels"),
			Inner: &ast.AST{Table: ident.New("label")},
			Correlation: ast.Correlation{
				ParentField: []ident.Ident{ident.New("id")},
				ChildField:  []ident.Ident{ident.New("issue_id")},
			},
		}},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "COALESCE(array_agg(row_to_json(r)), ARRAY[]::json[])")
}

// TestHiddenJunctionCollapsesToSingleExists checks that a hidden
// many-to-many junction hop is folded into one EXISTS containing the
// junction table, rather than nesting a correlated subquery inside
// another.
func TestHiddenJunctionCollapsesToSingleExists(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Related: []*ast.Subquery{{
			Alias:  ident.New("labels"),
			Hidden: true,
			Inner: &ast.AST{
				Table: ident.New("issue_label"),
				Related: []*ast.Subquery{{
					Alias: ident.New("labels"),
					Inner: &ast.AST{Table: ident.New("label")},
					Correlation: ast.Correlation{
						ParentField: []ident.Ident{ident.New("label_id")},
						ChildField:  []ident.Ident{ident.New("id")},
					},
				}},
			},
			Correlation: ast.Correlation{
				ParentField: []ident.Ident{ident.New("id")},
				ChildField:  []ident.Ident{ident.New("issue_id")},
			},
		}},
	}

	q, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, `FROM "issue_label" AS "table_0"`)
	require.Contains(t, q.SQL, `FROM "label" AS "labels"`)
}

func TestFormatJSONArrayWrapsResult(t *testing.T) {
	a := &ast.AST{Table: ident.New("issue")}
	q, err := compiler.Compile(a, compiler.FormatJSONArray, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "json_agg(row_to_json(t))")
}

func TestInvalidCorrelationLengthMismatchFails(t *testing.T) {
	a := &ast.AST{
		Table: ident.New("issue"),
		Related: []*ast.Subquery{{
			Alias: ident.New("labels"),
			Inner: &ast.AST{Table: ident.New("label")},
			Correlation: ast.Correlation{
				ParentField: []ident.Ident{ident.New("id")},
				ChildField:  []ident.Ident{ident.New("issue_id"), ident.New("extra")},
			},
		}},
	}

	_, err := compiler.Compile(a, compiler.FormatRows, nil)
	require.Error(t, err)

	var ce *compiler.CompileError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, compiler.InvalidCorrelation, ce.Kind)
}
