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

package window

import (
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func allRows(n int) []Row {
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		rows[i] = Row{"id": i}
	}
	return rows
}

func memFetcher(all []Row) PageFetcher {
	return func(a *ast.AST) ([]Row, error) {
		lo := 0
		if a.Start != nil {
			anchor := a.Start.Row["id"].(int)
			desc := len(a.OrderBy) > 0 && a.OrderBy[0].Direction == ast.Desc
			for i, r := range all {
				id := r["id"].(int)
				if desc {
					if id < anchor {
						lo = i
						break
					}
				} else if id > anchor {
					lo = i
					break
				}
				lo = i + 1
			}
		}
		desc := len(a.OrderBy) > 0 && a.OrderBy[0].Direction == ast.Desc
		ordered := all
		if desc {
			ordered = make([]Row, len(all))
			for i, r := range all {
				ordered[len(all)-1-i] = r
			}
			// recompute lo against reversed order
			lo = 0
			if a.Start != nil {
				anchor := a.Start.Row["id"].(int)
				for i, r := range ordered {
					if r["id"].(int) < anchor {
						lo = i
						break
					}
					lo = i + 1
				}
			}
		}
		hi := lo + int(*a.Limit)
		if hi > len(ordered) {
			hi = len(ordered)
		}
		if lo > hi {
			lo = hi
		}
		return append([]Row(nil), ordered[lo:hi]...), nil
	}
}

func baseAST() *ast.AST {
	return &ast.AST{
		Table:   ident.New("item"),
		OrderBy: []ast.OrderTerm{{Column: ident.New("id"), Direction: ast.Asc}},
	}
}

func TestLoadInitialSmallerThanPage(t *testing.T) {
	all := allRows(5)
	m := New(Params{
		Base:            baseAST(),
		Fetch:           memFetcher(all),
		RowID:           func(r Row) string { return "" },
		EstimateSize:    func(int) float64 { return 20 },
		GetScrollOffset: func() float64 { return 400 },
	})
	require.NoError(t, m.LoadInitial())
	require.Len(t, m.Rows(), 5)
	require.True(t, m.AtStart())
	require.True(t, m.AtEnd())
	total, ok := m.Total()
	require.True(t, ok)
	require.Equal(t, 5, total)
}

func TestLoadMoreForwardAndBackward(t *testing.T) {
	all := allRows(250)
	m := New(Params{
		Base:            baseAST(),
		Fetch:           memFetcher(all),
		RowID:           func(r Row) string { return "" },
		EstimateSize:    func(int) float64 { return 1 },
		GetScrollOffset: func() float64 { return 10 },
	})
	require.NoError(t, m.LoadInitial())
	require.True(t, m.AtStart())
	require.False(t, m.AtEnd())
	loaded := len(m.Rows())
	require.GreaterOrEqual(t, loaded, MinPageSize)

	require.NoError(t, m.LoadMore(Forward))
	require.Greater(t, len(m.Rows()), loaded)

	require.NoError(t, m.LoadMore(Backward))
	require.Equal(t, 0, m.FirstRowIndex())
	require.True(t, m.AtStart())
}

func TestSetContextParamsResets(t *testing.T) {
	all := allRows(5)
	m := New(Params{
		Base:            baseAST(),
		Fetch:           memFetcher(all),
		RowID:           func(r Row) string { return "" },
		EstimateSize:    func(int) float64 { return 20 },
		GetScrollOffset: func() float64 { return 400 },
	})
	require.NoError(t, m.LoadInitial())
	require.NotEmpty(t, m.Rows())

	m.SetContextParams("different-params")
	require.Empty(t, m.Rows())
	require.False(t, m.AtStart())
	require.False(t, m.AtEnd())
	_, ok := m.Total()
	require.False(t, ok)
}

func TestPermalinkNotFound(t *testing.T) {
	all := allRows(5)
	m := New(Params{
		Base:            baseAST(),
		Fetch:           memFetcher(all),
		RowID:           func(r Row) string { return "" },
		EstimateSize:    func(int) float64 { return 20 },
		GetScrollOffset: func() float64 { return 400 },
		PermalinkID:     "missing",
	})
	require.NoError(t, m.LoadInitial())
	require.True(t, m.PermalinkNotFound())
	require.Empty(t, m.Rows())
}

func TestPermalinkFound(t *testing.T) {
	all := allRows(5)
	m := New(Params{
		Base: baseAST(),
		Fetch: memFetcher(all),
		RowID: func(r Row) string {
			if id, ok := r["id"].(int); ok && id == 3 {
				return "3"
			}
			return ""
		},
		EstimateSize:    func(int) float64 { return 20 },
		GetScrollOffset: func() float64 { return 400 },
		PermalinkID:     "3",
	})
	require.NoError(t, m.LoadInitial())
	require.False(t, m.PermalinkNotFound())
	found := false
	for _, r := range m.Rows() {
		if r["id"] == 3 {
			found = true
		}
	}
	require.True(t, found)
}
