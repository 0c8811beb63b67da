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

// Package config composes the flag-bindable configuration surfaces of
// every long-running component into one top-level Config, following
// the Bind(*pflag.FlagSet)/Preflight() error convention
// internal/source/server.Config uses to compose cdc.Config: each
// sub-config owns its own flags and validation, and Config just calls
// into each of them in turn.
package config

import (
	"time"

	"github.com/cockroachdb/zero-ivm/internal/streamer"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the user-visible configuration for running the zero-ivm
// engine: the persisted-store connection, the change-streamer, and the
// ambient presence/stats knobs that don't warrant their own flag
// namespace.
type Config struct {
	// BindAddr is the network address the adhoc-query entrypoint
	// listens on. The entrypoint's transport itself is out of scope
	// (spec §1 "thin HTTP route handlers"); this flag exists so a thin
	// wrapper built on top of this package has somewhere to read it
	// from.
	BindAddr string

	// ConnectionString is the pgx connection string for the persisted
	// store (spec §6 "Persisted state layout").
	ConnectionString string

	Streamer streamer.Config

	// StatsRebuildThreshold is the deletionRatio above which
	// stats.Manager.ShouldRebuild reports true (spec §4.3, default
	// 0.2).
	StatsRebuildThreshold float64

	// PresenceGracePeriod is the Online/Offline Manager's debounce
	// window before declaring a client offline (spec §4.8).
	PresenceGracePeriod time.Duration

	// ActiveClientPrefix namespaces the Active-Client Manager's lock
	// names (spec §4.9 "{prefix}/{groupId}/{clientId}").
	ActiveClientPrefix string
}

// Bind registers every sub-config's flags onto flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.BindAddr, "bindAddr", ":26258", "the network address the adhoc-query entrypoint listens on")
	flags.StringVar(&c.ConnectionString, "connect", "", "the pgx connection string for the persisted store")
	c.Streamer.Bind(flags)
	flags.Float64Var(&c.StatsRebuildThreshold, "statsRebuildThreshold", 0.2, "the deletion ratio above which a table's HLL sketches are rebuilt")
	flags.DurationVar(&c.PresenceGracePeriod, "presenceGracePeriod", 30*time.Second, "how long a client is offline-pending before being declared offline")
	flags.StringVar(&c.ActiveClientPrefix, "activeClientPrefix", "zero", "the namespace prefix for active-client lock names")
}

// Preflight validates the configuration and fills in defaults left
// unset by a zero-value Config constructed outside of Bind (e.g. in
// tests).
func (c *Config) Preflight() error {
	if c.ConnectionString == "" {
		return errors.New("config: connect is required")
	}
	if err := c.Streamer.Preflight(); err != nil {
		return errors.Wrap(err, "config: streamer")
	}
	if c.StatsRebuildThreshold <= 0 || c.StatsRebuildThreshold >= 1 {
		return errors.New("config: statsRebuildThreshold must be in (0, 1)")
	}
	if c.PresenceGracePeriod <= 0 {
		c.PresenceGracePeriod = 30 * time.Second
	}
	if c.ActiveClientPrefix == "" {
		c.ActiveClientPrefix = "zero"
	}
	return nil
}
