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

package stats_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/stats"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func testTable(name string) ident.Table {
	s, _ := ident.ParseSchema("public")
	return ident.NewTable(s, ident.New(name))
}

// TestS6HLLOnRemoveDoesNotAffectCardinality reproduces spec scenario
// S6: inserting 1000 ids, then removing 500, leaves rowCount at 500
// while the un-rebuilt sketch still estimates ~1000 distinct ids;
// Cardinality clamps that estimate to the row count, so it reads ~500.
func TestS6HLLOnRemoveDoesNotAffectCardinality(t *testing.T) {
	m := stats.NewManager()
	tbl := testTable("t")

	for i := 0; i < 1000; i++ {
		m.OnAdd(tbl, map[string]any{"id": fmt.Sprintf("id-%d", i)})
	}
	for i := 0; i < 500; i++ {
		m.OnRemove(tbl, map[string]any{"id": fmt.Sprintf("id-%d", i)})
	}

	require.Equal(t, int64(500), m.RowCount(tbl))

	card, _ := m.Cardinality(tbl, ident.New("id"))
	// Clamped to the current row count per the universal property
	// "cardinality <= rowCount"; the sketch itself is not rebuilt.
	require.InDelta(t, 500, float64(card), 500*0.05)
}

func TestCardinalityNeverExceedsRowCount(t *testing.T) {
	m := stats.NewManager()
	tbl := testTable("t")
	for i := 0; i < 50; i++ {
		m.OnAdd(tbl, map[string]any{"id": i})
	}
	card, _ := m.Cardinality(tbl, ident.New("id"))
	require.LessOrEqual(t, card, uint64(m.RowCount(tbl)))
}

func TestFanoutIsAtLeastOneWhenCardinalityPositive(t *testing.T) {
	m := stats.NewManager()
	tbl := testTable("album")
	for i := 0; i < 10; i++ {
		m.OnAdd(tbl, map[string]any{"artist_id": i % 2})
	}
	fanout := m.Fanout(tbl, ident.New("artist_id"))
	require.GreaterOrEqual(t, fanout, 1.0)
}

func TestShouldRebuild(t *testing.T) {
	m := stats.NewManager()
	tbl := testTable("t")
	for i := 0; i < 8; i++ {
		m.OnAdd(tbl, map[string]any{"id": i})
	}
	for i := 0; i < 2; i++ {
		m.OnRemove(tbl, map[string]any{"id": i})
	}
	// deletionRatio = 2/(6+2) = 0.25 > 0.2
	require.True(t, m.ShouldRebuild(tbl, stats.DefaultRebuildThreshold))
}

type fakeSource struct {
	cols map[string][]any
}

func (f *fakeSource) Columns(table ident.Table) []ident.Ident {
	var out []ident.Ident
	for c := range f.cols {
		out = append(out, ident.New(c))
	}
	return out
}

func (f *fakeSource) ScanColumn(ctx context.Context, table ident.Table, column ident.Ident, fn func(value any) error) error {
	for _, v := range f.cols[column.Raw()] {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func TestRebuildResetsDeletionCounter(t *testing.T) {
	m := stats.NewManager()
	tbl := testTable("t")
	for i := 0; i < 8; i++ {
		m.OnAdd(tbl, map[string]any{"id": i})
	}
	for i := 0; i < 2; i++ {
		m.OnRemove(tbl, map[string]any{"id": i})
	}
	require.True(t, m.ShouldRebuild(tbl, stats.DefaultRebuildThreshold))

	src := &fakeSource{cols: map[string][]any{"id": {1, 2, 3, 4, 5, 6}}}
	require.NoError(t, m.Rebuild(context.Background(), tbl, src))

	require.False(t, m.ShouldRebuild(tbl, stats.DefaultRebuildThreshold))
	require.Equal(t, int64(6), m.RowCount(tbl))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := stats.NewManager()
	tbl := testTable("t")
	for i := 0; i < 20; i++ {
		m.OnAdd(tbl, map[string]any{"id": i})
	}

	snap := m.Snapshot()
	data, err := stats.MarshalSnapshot(snap)
	require.NoError(t, err)

	restoredSnap, err := stats.UnmarshalSnapshot(data)
	require.NoError(t, err)

	m2 := stats.NewManager()
	require.NoError(t, m2.Restore(restoredSnap))
	require.Equal(t, m.RowCount(tbl), m2.RowCount(tbl))

	c1, _ := m.Cardinality(tbl, ident.New("id"))
	c2, _ := m2.Cardinality(tbl, ident.New("id"))
	require.Equal(t, c1, c2)
}

func TestRestoreVersionMismatch(t *testing.T) {
	m := stats.NewManager()
	bad := &stats.Snapshot{Version: 999}
	err := m.Restore(bad)
	require.Error(t, err)
	var verr *stats.VersionMismatchError
	require.ErrorAs(t, err, &verr)
}
