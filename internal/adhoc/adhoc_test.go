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

package adhoc_test

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/adhoc"
	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/planner"
	"github.com/cockroachdb/zero-ivm/internal/queryengine"
	"github.com/cockroachdb/zero-ivm/internal/schema"
	"github.com/stretchr/testify/require"
)

func testGate(t *testing.T) *adhoc.Gate {
	t.Helper()
	m, err := schema.Build([]schema.TableSpec{
		{
			Client: "issue", Server: "zero_issue",
			Columns: []schema.ColumnPair{
				{Client: "id", Server: "id"},
				{Client: "isClosed", Server: "is_closed"},
			},
		},
	})
	require.NoError(t, err)

	engine := queryengine.New(planner.MapCostModel{"zero_issue": 10})
	keys := queryengine.KeyFuncs(func(table string) ivm.KeyFunc { return ivm.KeyOf("id") })

	return &adhoc.Gate{Engine: engine, Mapping: m, Keys: keys}
}

func TestGateRejectsWrongName(t *testing.T) {
	g := testGate(t)
	raw := []byte(`{"name":"not-the-adhoc-name","ast":{"table":"issue"}}`)
	_, err := g.Validate(raw)
	require.Error(t, err)
	var wrongName *adhoc.UnknownNameError
	require.ErrorAs(t, err, &wrongName)
}

func TestGateDecodesTranslatesAndValidates(t *testing.T) {
	g := testGate(t)
	body := map[string]any{
		"name": adhoc.ReservedName,
		"ast": map[string]any{
			"table": "issue",
			"where": map[string]any{
				"type": "simple",
				"op":   "=",
				"left": map[string]any{"type": "column", "name": "isClosed"},
				"right": map[string]any{"type": "literal", "value": false},
			},
			"orderBy": []map[string]any{
				{"column": "id", "direction": "asc"},
			},
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	a, err := g.Validate(raw)
	require.NoError(t, err)
	require.Equal(t, "zero_issue", a.Table.Raw())
	require.Equal(t, "id", a.OrderBy[0].Column.Raw())

	q, err := g.Query(raw)
	require.NoError(t, err)
	require.NotNil(t, q)
}

func TestGateRejectsUnknownColumn(t *testing.T) {
	g := testGate(t)
	body := map[string]any{
		"name": adhoc.ReservedName,
		"ast": map[string]any{
			"table": "issue",
			"where": map[string]any{
				"type":  "simple",
				"op":    "=",
				"left":  map[string]any{"type": "column", "name": "bogus"},
				"right": map[string]any{"type": "literal", "value": 1},
			},
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	_, err = g.Validate(raw)
	require.Error(t, err)
}
