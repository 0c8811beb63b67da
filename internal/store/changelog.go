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

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/zero-ivm/internal/util/watermark"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// LogEntry is a persisted row of the change_log table (spec §3
// "Change-Log Entry").
type LogEntry struct {
	Watermark watermark.Watermark
	Pos       int
	Change    json.RawMessage
	Precommit *string
}

// AppendLogEntries persists entries within an existing transaction
// (the Forwarder/Storer's per-transaction row writes, spec §4.5).
func AppendLogEntries(ctx context.Context, tx pgx.Tx, schema string, entries []LogEntry) error {
	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s.change_log (watermark, pos, change, precommit) VALUES ($1, $2, $3, $4)`, schema),
			e.Watermark.String(), e.Pos, e.Change, e.Precommit,
		); err != nil {
			return errors.Wrap(err, "store: appending change log entry")
		}
	}
	return nil
}

// ReadLogSince streams every persisted entry with watermark greater
// than after, in (watermark, pos) order, the history replay portion of
// a serving/backup subscription (spec §4.5).
func (p *Pool) ReadLogSince(ctx context.Context, schema string, after watermark.Watermark) ([]LogEntry, error) {
	rows, err := p.Query(ctx,
		fmt.Sprintf(`SELECT watermark, pos, change, precommit FROM %s.change_log WHERE watermark > $1 ORDER BY watermark, pos`, schema),
		after.String(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "store: reading change log")
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var wm string
		var e LogEntry
		if err := rows.Scan(&wm, &e.Pos, &e.Change, &e.Precommit); err != nil {
			return nil, errors.Wrap(err, "store: scanning change log row")
		}
		parsed, err := watermark.Parse(wm)
		if err != nil {
			return nil, err
		}
		e.Watermark = parsed
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "store: iterating change log")
}

// EarliestWatermark returns the lowest watermark still retained, used
// to answer WatermarkTooOld checks (spec §3 Subscriber invariant, §4.5).
func (p *Pool) EarliestWatermark(ctx context.Context, schema string) (watermark.Watermark, bool, error) {
	var wm string
	err := p.QueryRow(ctx, fmt.Sprintf(`SELECT min(watermark) FROM %s.change_log`, schema)).Scan(&wm)
	if errors.Is(err, pgx.ErrNoRows) || wm == "" {
		return watermark.Zero(), false, nil
	}
	if err != nil {
		return watermark.Zero(), false, errors.Wrap(err, "store: reading earliest watermark")
	}
	parsed, err := watermark.Parse(wm)
	return parsed, true, err
}

// Purge deletes every log entry whose watermark is strictly less than
// cutoff (spec §4.5 "Purging"). It returns the number of rows removed.
func (p *Pool) Purge(ctx context.Context, schema string, cutoff watermark.Watermark) (int64, error) {
	tag, err := p.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s.change_log WHERE watermark < $1`, schema),
		cutoff.String(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "store: purging change log")
	}
	return tag.RowsAffected(), nil
}
