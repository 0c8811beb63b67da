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

package mutate_test

import (
	"sync"
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/mutate"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func newIssues() *mutate.Table {
	return mutate.NewTable(ident.New("issue"), ivm.KeyOf("id"), mutate.Schema{
		Columns:  []string{"id", "title", "isClosed"},
		Required: []string{"id", "title"},
	})
}

func TestInsertIsNoOpOnExistingKey(t *testing.T) {
	tbl := newIssues()
	require.NoError(t, tbl.Insert(ivm.Row{"id": "1", "title": "first"}))
	require.NoError(t, tbl.Insert(ivm.Row{"id": "1", "title": "second"}))

	row, ok := tbl.Source.Get(tbl.Source.Key(ivm.Row{"id": "1"}))
	require.True(t, ok)
	require.Equal(t, "first", row["title"])
}

func TestInsertRejectsMissingRequiredColumn(t *testing.T) {
	tbl := newIssues()
	err := tbl.Insert(ivm.Row{"id": "1"})
	require.Error(t, err)
	var violation *mutate.SchemaViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "title", violation.Column)
}

func TestUpsertMergesOnPrimaryKeyConflict(t *testing.T) {
	tbl := newIssues()
	require.NoError(t, tbl.Insert(ivm.Row{"id": "1", "title": "first"}))
	require.NoError(t, tbl.Upsert(ivm.Row{"id": "1", "isClosed": true}, mutate.UpsertOptions{}))

	row, ok := tbl.Source.Get(tbl.Source.Key(ivm.Row{"id": "1"}))
	require.True(t, ok)
	require.Equal(t, "first", row["title"])
	require.Equal(t, true, row["isClosed"])
}

func TestUpsertHonorsOnConflictColumns(t *testing.T) {
	tbl := newIssues()
	require.NoError(t, tbl.Insert(ivm.Row{"id": "1", "title": "dup-slug", "isClosed": false}))
	require.NoError(t, tbl.Upsert(
		ivm.Row{"id": "2", "title": "dup-slug", "isClosed": true},
		mutate.UpsertOptions{OnConflict: []string{"title"}},
	))

	row, ok := tbl.Source.Get(tbl.Source.Key(ivm.Row{"id": "1"}))
	require.True(t, ok)
	require.Equal(t, true, row["isClosed"])

	_, ok = tbl.Source.Get(tbl.Source.Key(ivm.Row{"id": "2"}))
	require.False(t, ok)
}

func TestUpdateIsNoOpWhenRowMissing(t *testing.T) {
	tbl := newIssues()
	require.NoError(t, tbl.Update(ivm.Row{"id": "missing"}, ivm.Row{"title": "x"}))
	require.Empty(t, tbl.Source.Rows())
}

func TestDeleteIsNoOpWhenRowMissing(t *testing.T) {
	tbl := newIssues()
	tbl.Delete(ivm.Row{"id": "missing"})
	require.Empty(t, tbl.Source.Rows())
}

func TestTransactionAppliesChangesAtomically(t *testing.T) {
	registry := mutate.NewRegistry()
	registry.Register(newIssues())

	err := registry.Transaction(func(tx *mutate.Tx) error {
		require.NoError(t, tx.Table("issue").Insert(ivm.Row{"id": "1", "title": "first"}))
		require.NoError(t, tx.Table("issue").Insert(ivm.Row{"id": "2", "title": "second"}))
		return nil
	})
	require.NoError(t, err)

	live := registry.Table("issue")
	require.Len(t, live.Source.Rows(), 2)
}

func TestTransactionLeavesLiveTableUntouchedOnError(t *testing.T) {
	registry := mutate.NewRegistry()
	registry.Register(newIssues())

	sentinel := require.New(t)
	err := registry.Transaction(func(tx *mutate.Tx) error {
		require.NoError(t, tx.Table("issue").Insert(ivm.Row{"id": "1", "title": "first"}))
		return require.AnError
	})
	sentinel.ErrorIs(err, require.AnError)

	live := registry.Table("issue")
	require.Empty(t, live.Source.Rows())
}

func TestConcurrentTransactionsFailFastWithTransactionBusy(t *testing.T) {
	registry := mutate.NewRegistry()
	registry.Register(newIssues())

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = registry.Transaction(func(tx *mutate.Tx) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := registry.Transaction(func(tx *mutate.Tx) error { return nil })
	require.ErrorIs(t, err, mutate.TransactionBusy)

	close(release)
	wg.Wait()
}
