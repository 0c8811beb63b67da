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
	"encoding/json"

	"github.com/cockroachdb/zero-ivm/internal/store"
	"github.com/cockroachdb/zero-ivm/internal/util/watermark"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// LogEntry is an alias of store.LogEntry, re-exported so that callers
// of the streamer package can build a fake Store for tests without
// importing internal/store themselves.
type LogEntry = store.LogEntry

// Store is the persistence boundary a Streamer needs: the ordered
// change log plus the singleton replicationState row (spec §4.5, §6
// "Persisted state layout"). NewPoolStore adapts a *store.Pool to it.
type Store interface {
	ClaimOwnership(ctx context.Context, owner, ownerAddress string) error
	CommitOwned(ctx context.Context, owner string, wm watermark.Watermark, fn func(append func(LogEntry) error) error) error
	ReadLogSince(ctx context.Context, after watermark.Watermark) ([]LogEntry, error)
	EarliestWatermark(ctx context.Context) (watermark.Watermark, bool, error)
	LastWatermark(ctx context.Context) (watermark.Watermark, error)
	Purge(ctx context.Context, cutoff watermark.Watermark) (int64, error)
}

// poolStore adapts a *store.Pool (whose methods take an explicit
// schema and a raw pgx.Tx) to the narrower Store interface above.
type poolStore struct {
	pool   *store.Pool
	schema string
}

// NewPoolStore wraps pool for use by a Streamer scoped to schema.
func NewPoolStore(pool *store.Pool, schema string) Store {
	return &poolStore{pool: pool, schema: schema}
}

func (s *poolStore) ClaimOwnership(ctx context.Context, owner, ownerAddress string) error {
	return s.pool.ClaimOwnership(ctx, s.schema, owner, ownerAddress)
}

func (s *poolStore) CommitOwned(
	ctx context.Context, owner string, wm watermark.Watermark, fn func(append func(LogEntry) error) error,
) error {
	return s.pool.CommitOwned(ctx, s.schema, owner, wm, func(tx pgx.Tx) error {
		return fn(func(e LogEntry) error {
			return store.AppendLogEntries(ctx, tx, s.schema, []LogEntry{e})
		})
	})
}

func (s *poolStore) ReadLogSince(ctx context.Context, after watermark.Watermark) ([]LogEntry, error) {
	return s.pool.ReadLogSince(ctx, s.schema, after)
}

func (s *poolStore) EarliestWatermark(ctx context.Context) (watermark.Watermark, bool, error) {
	return s.pool.EarliestWatermark(ctx, s.schema)
}

func (s *poolStore) LastWatermark(ctx context.Context) (watermark.Watermark, error) {
	state, err := s.pool.LoadReplicationState(ctx, s.schema)
	if err != nil {
		return watermark.Zero(), err
	}
	return state.LastWatermark, nil
}

func (s *poolStore) Purge(ctx context.Context, cutoff watermark.Watermark) (int64, error) {
	return s.pool.Purge(ctx, s.schema, cutoff)
}

// encodeData marshals a DataPayload for persistence in the change_log
// "change" JSONB column (spec §3 Change-Log Entry).
func encodeData(d DataPayload) (json.RawMessage, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "streamer: encoding data payload")
	}
	return b, nil
}

// decodeData is the inverse of encodeData, used to replay persisted
// history to catching-up subscribers. A malformed row yields an empty
// payload rather than aborting the whole backlog replay.
func decodeData(raw json.RawMessage) *DataPayload {
	var d DataPayload
	if err := json.Unmarshal(raw, &d); err != nil {
		return &DataPayload{}
	}
	return &d
}
