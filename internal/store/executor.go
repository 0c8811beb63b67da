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

	"github.com/cockroachdb/zero-ivm/internal/compiler"
	"github.com/pkg/errors"
)

// Executor runs a compiled compiler.SqlQuery against the target
// database, the collaborator the compiler side of "compile(ast) -> SQL
// or IVM" needs to actually produce rows (spec §6 Query API; SPEC_FULL
// §D "compiler.Executor").
type Executor interface {
	Query(ctx context.Context, q *compiler.SqlQuery) ([]map[string]any, error)
}

// PoolExecutor runs SqlQuery statements against a pgx pool.
type PoolExecutor struct {
	Pool *Pool
}

var _ Executor = (*PoolExecutor)(nil)

// Query implements Executor by running q.SQL with q.Params bound
// positionally and decoding every returned column into a map keyed by
// its column name, the shape the IVM preload path and the adhoc-query
// gate both consume.
func (e *PoolExecutor) Query(ctx context.Context, q *compiler.SqlQuery) ([]map[string]any, error) {
	rows, err := e.Pool.Query(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, errors.Wrap(err, "store: executing compiled query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "store: scanning compiled query row")
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "store: iterating compiled query rows")
}
