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

package streamer

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/util/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store for tests, standing in for
// internal/store.Pool the way the teacher's sinktest fixtures stand in
// for a live database.
type fakeStore struct {
	mu      sync.Mutex
	owner   string
	last    watermark.Watermark
	entries []LogEntry
	denyTx  bool // simulates a lost ownership race
}

func (f *fakeStore) ClaimOwnership(_ context.Context, owner, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = owner
	return nil
}

func (f *fakeStore) CommitOwned(
	_ context.Context, owner string, wm watermark.Watermark, fn func(append func(LogEntry) error) error,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyTx || f.owner != owner {
		return ErrTestOwnershipLost
	}
	err := fn(func(e LogEntry) error {
		f.entries = append(f.entries, e)
		return nil
	})
	if err != nil {
		return err
	}
	f.last = wm
	return nil
}

func (f *fakeStore) ReadLogSince(_ context.Context, after watermark.Watermark) ([]LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []LogEntry
	for _, e := range f.entries {
		if watermark.Compare(e.Watermark, after) > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) EarliestWatermark(_ context.Context) (watermark.Watermark, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return watermark.Zero(), false, nil
	}
	earliest := f.entries[0].Watermark
	for _, e := range f.entries {
		if watermark.Less(e.Watermark, earliest) {
			earliest = e.Watermark
		}
	}
	return earliest, true, nil
}

func (f *fakeStore) LastWatermark(context.Context) (watermark.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeStore) Purge(_ context.Context, cutoff watermark.Watermark) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []LogEntry
	var n int64
	for _, e := range f.entries {
		if watermark.Less(e.Watermark, cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return n, nil
}

// ErrTestOwnershipLost stands in for store.ErrOwnershipLost.
var ErrTestOwnershipLost = &OwnershipLostSignal{Owner: "test"}

func wm(nanos int64) watermark.Watermark { return watermark.New(nanos, 0) }

func TestForwarderCommitsTransaction(t *testing.T) {
	store := &fakeStore{owner: "me"}
	var captured watermark.Watermark
	var capturedEntries []LogEntry
	fwd := NewForwarder(store, "me", func(w watermark.Watermark, entries []LogEntry) {
		captured = w
		capturedEntries = entries
	})

	ctx := context.Background()
	require.NoError(t, fwd.Process(ctx, Message{Kind: KindBegin, Begin: &BeginPayload{CommitWatermark: wm(10)}}))
	require.NoError(t, fwd.Process(ctx, Message{Kind: KindData, Data: &DataPayload{Tag: TagInsert, Relation: "t", New: map[string]any{"id": 1}}}))
	require.NoError(t, fwd.Process(ctx, Message{Kind: KindCommit, Commit: &CommitPayload{Watermark: wm(10)}}))

	assert.Equal(t, wm(10), captured)
	assert.Len(t, capturedEntries, 2) // one data row + the commit row
	last, err := store.LastWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, wm(10), last)
}

func TestForwarderRollbackDiscardsPending(t *testing.T) {
	store := &fakeStore{owner: "me"}
	fwd := NewForwarder(store, "me", nil)
	ctx := context.Background()

	require.NoError(t, fwd.Process(ctx, Message{Kind: KindBegin, Begin: &BeginPayload{CommitWatermark: wm(5)}}))
	require.NoError(t, fwd.Process(ctx, Message{Kind: KindData, Data: &DataPayload{Tag: TagInsert, Relation: "t"}}))
	require.NoError(t, fwd.Process(ctx, Message{Kind: KindRollback}))

	assert.Empty(t, store.entries)
	require.NoError(t, fwd.Process(ctx, Message{Kind: KindBegin, Begin: &BeginPayload{CommitWatermark: wm(6)}}))
}

func TestForwarderOwnershipLost(t *testing.T) {
	store := &fakeStore{owner: "me"}
	fwd := NewForwarder(store, "me", nil)
	ctx := context.Background()

	require.NoError(t, fwd.Process(ctx, Message{Kind: KindBegin, Begin: &BeginPayload{CommitWatermark: wm(1)}}))
	store.owner = "someone-else"
	err := fwd.Process(ctx, Message{Kind: KindCommit, Commit: &CommitPayload{Watermark: wm(1)}})
	require.Error(t, err)
	_, ok := err.(*OwnershipLostSignal)
	assert.True(t, ok)
}

func TestForwarderResetRequired(t *testing.T) {
	store := &fakeStore{owner: "me"}
	fwd := NewForwarder(store, "me", nil)
	err := fwd.Process(context.Background(), Message{
		Kind:    KindControl,
		Control: &ControlPayload{Control: ControlResetRequired, Reason: "replica version mismatch"},
	})
	require.Error(t, err)
	_, ok := err.(*AutoResetSignal)
	assert.True(t, ok)
}

func TestHubSubscribeWatermarkTooOld(t *testing.T) {
	store := &fakeStore{owner: "me"}
	store.entries = []LogEntry{{Watermark: wm(4)}, {Watermark: wm(6)}, {Watermark: wm(8)}}
	store.last = wm(8)
	hub := NewHub(store, "")

	ctx := context.Background()
	_, err := hub.Subscribe(ctx, SubscribeRequest{Mode: ModeServing, InitialWatermark: wm(4)})
	require.NoError(t, err)

	_, err = hub.Subscribe(ctx, SubscribeRequest{Mode: ModeServing, InitialWatermark: wm(2)})
	require.Error(t, err)
	tooOld, ok := err.(*WatermarkTooOldError)
	require.True(t, ok)
	assert.Equal(t, wm(4), tooOld.Earliest)
	assert.Equal(t, wm(2), tooOld.Requested)
}

func TestHubSubscribeBackupTooOldResetsInsteadOfRejecting(t *testing.T) {
	store := &fakeStore{owner: "me"}
	store.entries = []LogEntry{{Watermark: wm(4)}}
	store.last = wm(4)
	hub := NewHub(store, "")

	_, err := hub.Subscribe(context.Background(), SubscribeRequest{Mode: ModeBackup, InitialWatermark: wm(1)})
	require.Error(t, err)
	_, ok := err.(*AutoResetSignal)
	assert.True(t, ok)
}

func TestHubSubscribeWrongReplicaVersion(t *testing.T) {
	store := &fakeStore{owner: "me"}
	hub := NewHub(store, "v2")
	_, err := hub.Subscribe(context.Background(), SubscribeRequest{ReplicaVersion: "v1"})
	require.Error(t, err)
	_, ok := err.(*WrongReplicaVersionError)
	assert.True(t, ok)
}

func TestHubPurgeGatingUsesMinAcked(t *testing.T) {
	store := &fakeStore{owner: "me"}
	hub := NewHub(store, "")
	_, ok := hub.MinAcked()
	assert.False(t, ok)

	sub, err := hub.Subscribe(context.Background(), SubscribeRequest{Mode: ModeServing, InitialWatermark: wm(1)})
	require.NoError(t, err)
	sub.Ack(wm(3))

	cutoff, ok := hub.MinAcked()
	require.True(t, ok)
	assert.Equal(t, wm(3), cutoff)
}
