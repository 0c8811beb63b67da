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

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/zero-ivm/internal/config"
	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/mutate"
	"github.com/cockroachdb/zero-ivm/internal/schema"
	"github.com/cockroachdb/zero-ivm/internal/store"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/cockroachdb/zero-ivm/internal/util/stopper"
	"github.com/cockroachdb/zero-ivm/internal/wiring"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// logLevel is bound separately from config.Config since log verbosity
// is a process concern, not a component one (spec §1 is silent on it;
// internal/source/server/config.go's sibling main wires logrus the
// same way, one level flag above every component's own Bind).
var logLevel string

func newRootCmd() *cobra.Command {
	var cfg config.Config
	var pollTable string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "zero-ivm",
		Short: "Run the incrementally-maintained query engine",
		Long: `zero-ivm streams committed changes from a primary store, maintains
query results incrementally, and serves both compiled SQL and live
materialized views from the same query trees.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return errors.Wrap(err, "parsing --logLevel")
			}
			log.SetLevel(level)

			if err := cfg.Preflight(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			stopCtx := stopper.WithContext(ctx)

			tables, mapping, err := demoSchema()
			if err != nil {
				return err
			}

			pool, err := store.Open(stopCtx, cfg.ConnectionString)
			if err != nil {
				return errors.Wrap(err, "opening store")
			}
			source := &store.PollSource{Pool: pool, Schema: cfg.Streamer.Schema, Table: pollTable, Interval: pollInterval}

			app, err := wiring.New(&cfg, pool, source, tables, mapping)
			if err != nil {
				return err
			}

			log.WithField("connect", cfg.ConnectionString).Info("zero-ivm: starting")
			err = app.Run(stopCtx)
			if stopErr := stopCtx.Stop(30 * time.Second); stopErr != nil && err == nil {
				err = stopErr
			}
			return err
		},
	}

	flags := cmd.Flags()
	cfg.Bind(flags)
	flags.StringVar(&logLevel, "logLevel", "info", "logrus level: trace, debug, info, warn, error")
	flags.StringVar(&pollTable, "pollTable", "zero_issue", "the upstream table PollSource watches for changes")
	flags.DurationVar(&pollInterval, "pollInterval", time.Second, "how often PollSource checks the upstream table for new rows")

	return cmd
}

func demoSchema() ([]wiring.TableSpec, *schema.Mapping, error) {
	issue := ident.New("zero_issue")
	key := ivm.KeyOf("id")
	tables := []wiring.TableSpec{
		{
			Name: issue,
			Key:  key,
			Schema: mutate.Schema{
				Columns:  []string{"id", "title", "is_closed", "version_nanos"},
				Required: []string{"id", "title"},
			},
			Rows: 1000,
		},
	}

	mapping, err := schema.Build([]schema.TableSpec{
		{
			Client: "issue", Server: "zero_issue",
			Columns: []schema.ColumnPair{
				{Client: "id", Server: "id"},
				{Client: "title", Server: "title"},
				{Client: "isClosed", Server: "is_closed"},
			},
		},
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "building demo schema mapping")
	}
	return tables, mapping, nil
}
