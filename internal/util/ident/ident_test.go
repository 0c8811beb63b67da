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

package ident_test

import (
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func TestIdentEqualityIsCaseInsensitive(t *testing.T) {
	a := ident.New("Issue")
	b := ident.New("issue")
	require.True(t, a.Equal(b))
	require.Equal(t, "Issue", a.Raw())
}

func TestTableRaw(t *testing.T) {
	s, err := ident.ParseSchema("db.public")
	require.NoError(t, err)
	tbl := ident.NewTable(s, ident.New("issue"))
	require.Equal(t, "db.public.issue", tbl.Raw())
}

func TestTableMapPreservesInsertionOrder(t *testing.T) {
	s, _ := ident.ParseSchema("public")
	var m ident.TableMap[int]
	t1 := ident.NewTable(s, ident.New("b"))
	t2 := ident.NewTable(s, ident.New("a"))
	m.Put(t1, 1)
	m.Put(t2, 2)

	var seen []string
	require.NoError(t, m.Range(func(tbl ident.Table, v int) error {
		seen = append(seen, tbl.Name().Raw())
		return nil
	}))
	require.Equal(t, []string{"b", "a"}, seen)
}

func TestTableMapGetZero(t *testing.T) {
	var m ident.TableMap[[]int]
	s, _ := ident.ParseSchema("public")
	tbl := ident.NewTable(s, ident.New("t"))
	require.Nil(t, m.GetZero(tbl))
	m.Put(tbl, append(m.GetZero(tbl), 1))
	require.Equal(t, []int{1}, m.GetZero(tbl))
}
