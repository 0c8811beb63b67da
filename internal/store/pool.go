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

// Package store is the persisted-state boundary of the system (spec
// §6 "Persisted state layout"): a pgx-backed connection pool, the
// replicationState/changeLog/replicationConfig/_seed_progress tables,
// and a compiler.SqlQuery executor for server-side execution. It
// follows the teacher's internal/util/stdpool construction idiom
// (stopper-gated lifecycle, a cleanup goroutine that closes the pool
// when the Context stops) adapted from cdc-sink's MySQL target pool to
// the pgx pool cdc-sink itself uses for its CockroachDB staging store.
package store

import (
	"github.com/cockroachdb/zero-ivm/internal/util/stopper"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Pool wraps a pgxpool.Pool with the connection metadata the rest of
// the store package needs.
type Pool struct {
	*pgxpool.Pool
	ConnectionString string
}

// Open creates a pgx connection pool gated by ctx: it is closed
// automatically when ctx.Stopping() fires, matching the teacher's
// stdpool.OpenMySQLAsTarget lifecycle pattern.
func Open(ctx *stopper.Context, connectString string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(connectString)
	if err != nil {
		return nil, errors.Wrap(err, "store: parsing connection string")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "store: opening connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "store: could not ping database")
	}

	ret := &Pool{Pool: pool, ConnectionString: connectString}

	ctx.Go(func() error {
		<-ctx.Stopping()
		ret.Close()
		log.Info("store: connection pool closed")
		return nil
	})

	log.WithField("target", maskedConnString(connectString)).Info("store: connection pool opened")
	return ret, nil
}

// maskedConnString is logged in place of the raw connection string,
// which may carry credentials.
func maskedConnString(s string) string {
	return "<redacted>"
}
