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
	"fmt"

	"github.com/cockroachdb/zero-ivm/internal/util/watermark"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrOwnershipLost is returned by VerifyOwnership (and, transitively,
// by CommitOwned) when a commit discovers that another process has
// taken over the replicationState row (spec §4.5 "Ownership fence",
// §7 StreamError.OwnershipLost).
var ErrOwnershipLost = errors.New("store: ownership lost")

// ReplicationState mirrors the singleton replicationState row (spec
// §3 "Replication State", §6).
type ReplicationState struct {
	Owner         string
	OwnerAddress  string
	LastWatermark watermark.Watermark
}

// ClaimOwnership writes this process's identity into the singleton
// replicationState row, creating it if absent (spec §4.5 "At startup
// the streamer writes its (owner, ownerAddress) into the singleton
// replicationState row").
func (p *Pool) ClaimOwnership(ctx context.Context, schema, owner, ownerAddress string) error {
	_, err := p.Exec(ctx, fmt.Sprintf(`
UPSERT INTO %s.replication_state (lock, owner, owner_address, last_watermark)
VALUES (1, $1, $2, COALESCE((SELECT last_watermark FROM %[1]s.replication_state WHERE lock = 1), ''))`,
		schema), owner, ownerAddress)
	return errors.Wrap(err, "store: claiming ownership")
}

// CommitOwned runs fn inside a SERIALIZABLE transaction that first
// re-reads replicationState.owner and fails with ErrOwnershipLost if it
// no longer matches owner (spec §4.5 "Every commit reads it back with
// SERIALIZABLE semantics"). On success it advances last_watermark to
// wm, which must be monotonically increasing (spec §3 Replication
// State invariant).
func (p *Pool) CommitOwned(
	ctx context.Context, schema, owner string, wm watermark.Watermark, fn func(pgx.Tx) error,
) error {
	tx, err := p.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "store: begin owned commit")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT owner FROM %s.replication_state WHERE lock = 1`, schema),
	).Scan(&current)
	if err != nil {
		return errors.Wrap(err, "store: reading replication state")
	}
	if current != owner {
		return ErrOwnershipLost
	}

	if err := fn(tx); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s.replication_state SET last_watermark = $1 WHERE lock = 1`, schema),
		wm.String(),
	); err != nil {
		return errors.Wrap(err, "store: advancing last_watermark")
	}

	return errors.Wrap(tx.Commit(ctx), "store: commit owned transaction")
}

// LoadReplicationState reads the current singleton row.
func (p *Pool) LoadReplicationState(ctx context.Context, schema string) (*ReplicationState, error) {
	var owner, addr, wm string
	err := p.QueryRow(ctx,
		fmt.Sprintf(`SELECT owner, owner_address, last_watermark FROM %s.replication_state WHERE lock = 1`, schema),
	).Scan(&owner, &addr, &wm)
	if errors.Is(err, pgx.ErrNoRows) {
		return &ReplicationState{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: loading replication state")
	}
	parsed := watermark.Zero()
	if wm != "" {
		parsed, err = watermark.Parse(wm)
		if err != nil {
			return nil, err
		}
	}
	return &ReplicationState{Owner: owner, OwnerAddress: addr, LastWatermark: parsed}, nil
}
