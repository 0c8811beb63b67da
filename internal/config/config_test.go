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

package config_test

import (
	"testing"

	"github.com/cockroachdb/zero-ivm/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestBindThenPreflight(t *testing.T) {
	var c config.Config
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Bind(flags)
	require.NoError(t, flags.Parse([]string{"--connect=postgres://localhost/test", "--owner=node-1"}))
	require.NoError(t, c.Preflight())
	require.Equal(t, 0.2, c.StatsRebuildThreshold)
}

func TestPreflightRequiresConnectionString(t *testing.T) {
	var c config.Config
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Bind(flags)
	require.NoError(t, flags.Parse([]string{"--owner=node-1"}))
	require.Error(t, c.Preflight())
}

func TestPreflightRejectsBadThreshold(t *testing.T) {
	c := config.Config{ConnectionString: "postgres://localhost/test", StatsRebuildThreshold: 1.5}
	c.Streamer.Owner = "node-1"
	require.Error(t, c.Preflight())
}
