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
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config contains the user-visible configuration for running a
// Streamer, following the Bind/Preflight convention of
// internal/source/server/config.go.
type Config struct {
	Schema         string
	Owner          string
	OwnerAddress   string
	ReplicaVersion string
	PurgeInterval  time.Duration
}

// Bind registers flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.Schema, "schema", "public", "the schema containing the replication state tables")
	flags.StringVar(&c.Owner, "owner", "", "the unique identity this process claims replicationState ownership under")
	flags.StringVar(&c.OwnerAddress, "ownerAddress", "", "an address peers can use to identify this owner")
	flags.StringVar(&c.ReplicaVersion, "replicaVersion", "", "the replica version subscribers must present to connect")
	flags.DurationVar(&c.PurgeInterval, "purgeInterval", 30*time.Second, "how often to purge change-log entries no subscriber still needs")
}

// Preflight validates the configuration.
func (c *Config) Preflight() error {
	if c.Owner == "" {
		return errors.New("streamer: owner must be set")
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 30 * time.Second
	}
	return nil
}
