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

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// SeedProgress reads and writes the _seed_progress KV table (spec §6),
// a small checkpoint store for the bootstrap/seeding tooling that the
// core does not otherwise depend on (spec §1 Non-goals "data-seeding
// scripts").
type SeedProgress struct {
	pool   *Pool
	schema string
}

// NewSeedProgress constructs a SeedProgress accessor for schema.
func NewSeedProgress(pool *Pool, schema string) *SeedProgress {
	return &SeedProgress{pool: pool, schema: schema}
}

// Get returns the value stored under key, or (nil, false) if absent.
func (s *SeedProgress) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value json.RawMessage
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s._seed_progress WHERE key = $1`, s.schema), key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "store: reading seed progress")
	}
	return value, true, nil
}

// Put stores value under key, overwriting any prior value.
func (s *SeedProgress) Put(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPSERT INTO %s._seed_progress (key, value) VALUES ($1, $2)`, s.schema),
		key, value,
	)
	return errors.Wrap(err, "store: writing seed progress")
}
