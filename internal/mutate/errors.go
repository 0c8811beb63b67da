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

// Package mutate implements the optimistic CRUD layer over IVM
// sources: per-table insert/upsert/update/delete, and a single-flight
// transaction wrapper that forks every registered table, runs a
// callback against the forks, and diffs the result back in as ordinary
// Add/Remove/Edit pushes on success (spec §4.6).
package mutate

import "github.com/pkg/errors"

// TransactionBusy is returned by Registry.Transaction when a
// transaction is already in flight (spec §4.6 "One transaction at a
// time; concurrent calls fail with TransactionBusy").
var TransactionBusy = errors.New("mutate: transaction already in progress")

// SchemaViolationError reports a mutation that doesn't conform to a
// table's registered schema (spec §7 MutationError.SchemaViolation).
type SchemaViolationError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return "mutate: schema violation on " + e.Table + "." + e.Column + ": " + e.Reason
}
