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
)

// DDL for the four persisted tables spec §6 names. Following the
// teacher's SQL-templating convention (backtick-delimited constants
// executed with fmt.Sprintf over a schema name), these are plain
// strings rather than a migration framework, since the pack shows no
// example repo reaching for one.
const (
	ddlReplicationState = `
CREATE TABLE IF NOT EXISTS %s.replication_state (
  lock            INT PRIMARY KEY DEFAULT 1 CHECK (lock = 1),
  owner           STRING NOT NULL,
  owner_address   STRING NOT NULL,
  last_watermark  STRING NOT NULL DEFAULT ''
)`

	ddlChangeLog = `
CREATE TABLE IF NOT EXISTS %s.change_log (
  watermark  STRING NOT NULL,
  pos        INT NOT NULL,
  change     JSONB NOT NULL,
  precommit  STRING,
  PRIMARY KEY (watermark, pos)
)`

	ddlReplicationConfig = `
CREATE TABLE IF NOT EXISTS %s.replication_config (
  lock             INT PRIMARY KEY DEFAULT 1 CHECK (lock = 1),
  replica_version  STRING NOT NULL,
  publications     STRING[] NOT NULL DEFAULT '{}'
)`

	ddlSeedProgress = `
CREATE TABLE IF NOT EXISTS %s._seed_progress (
  key    STRING PRIMARY KEY,
  value  JSONB NOT NULL
)`
)

// CreateSchema creates every persisted table spec §6 names, in schema
// (defaulting to "public" if empty). It is idempotent.
func CreateSchema(ctx context.Context, pool *Pool, schema string) error {
	if schema == "" {
		schema = "public"
	}
	for _, ddl := range []string{ddlReplicationState, ddlChangeLog, ddlReplicationConfig, ddlSeedProgress} {
		if _, err := pool.Exec(ctx, fmt.Sprintf(ddl, schema)); err != nil {
			return err
		}
	}
	return nil
}
