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

// Package wiring composes the persisted store, query engine, CRUD
// layer, change-streamer, and presence managers into one running
// App, the way internal/sinktest/base/wire_gen.go assembles a test
// fixture's dependency graph by hand rather than through wire's code
// generation (this package plays the same role for a real binary:
// the composition is small enough to write directly).
package wiring

import (
	"github.com/cockroachdb/zero-ivm/internal/adhoc"
	"github.com/cockroachdb/zero-ivm/internal/config"
	"github.com/cockroachdb/zero-ivm/internal/ivm"
	"github.com/cockroachdb/zero-ivm/internal/mutate"
	"github.com/cockroachdb/zero-ivm/internal/planner"
	"github.com/cockroachdb/zero-ivm/internal/presence"
	"github.com/cockroachdb/zero-ivm/internal/queryengine"
	"github.com/cockroachdb/zero-ivm/internal/schema"
	"github.com/cockroachdb/zero-ivm/internal/stats"
	"github.com/cockroachdb/zero-ivm/internal/store"
	"github.com/cockroachdb/zero-ivm/internal/streamer"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/cockroachdb/zero-ivm/internal/util/stopper"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TableSpec describes one table to register with the engine and the
// mutation registry at startup. Real deployments would discover these
// from the upstream's catalog; this package takes them as a static
// list since catalog discovery is out of scope (spec §1 Non-goals).
type TableSpec struct {
	Name   ident.Ident
	Key    ivm.KeyFunc
	Schema mutate.Schema
	// Rows estimates the table's unconstrained row count for the
	// planner's cost model until stats.Manager has observed real
	// traffic (spec §4.2, §4.3).
	Rows float64
}

// App is every long-running piece this binary owns, wired together.
type App struct {
	Config   *config.Config
	Pool     *store.Pool
	Engine   *queryengine.Engine
	Registry *mutate.Registry
	Stats    *stats.Manager
	Streamer *streamer.Streamer
	Online   *presence.OnlineManager
	Active   *presence.ActiveClientManager
	Adhoc    *adhoc.Gate
}

// New registers tables against pool and assembles every component,
// but starts nothing: call Run to bring the streamer and presence
// managers up under ctx. pool is opened by the caller (rather than by
// New itself) because a ChangeSource such as store.PollSource is
// often built from that same pool, before New has anything to hand
// back.
func New(
	cfg *config.Config,
	pool *store.Pool,
	source streamer.ChangeSource,
	tables []TableSpec,
	mapping *schema.Mapping,
) (*App, error) {
	model := make(planner.MapCostModel, len(tables))
	for _, t := range tables {
		model[t.Name.Raw()] = t.Rows
	}
	engine := queryengine.New(model)

	registry := mutate.NewRegistry()
	keys := make(map[string]ivm.KeyFunc, len(tables))
	for _, t := range tables {
		src := engine.Table(t.Name, t.Key)
		registry.Register(&mutate.Table{Name: t.Name, Source: src, Schema: t.Schema})
		keys[t.Name.Raw()] = t.Key
	}
	keyFuncs := queryengine.KeyFuncs(func(table string) ivm.KeyFunc { return keys[table] })

	changeStore := streamer.NewPoolStore(pool, cfg.Streamer.Schema)
	strm := streamer.New(source, changeStore, cfg.Streamer.Owner, cfg.Streamer.OwnerAddress,
		cfg.Streamer.ReplicaVersion, cfg.Streamer.PurgeInterval)

	statsManager := stats.NewManager()

	online := presence.NewOnlineManager(cfg.PresenceGracePeriod)

	clientID := uuid.NewString()
	active := &presence.ActiveClientManager{
		Prefix:   cfg.ActiveClientPrefix,
		GroupID:  cfg.Streamer.Schema,
		ClientID: clientID,
		Backend:  presence.NewMemoryLockBackend(),
		Bus:      presence.NewGroupBroadcast(),
		OnChange: func(peers []string) {
			log.WithField("peers", peers).Debug("wiring: active client set changed")
		},
	}

	var gate *adhoc.Gate
	if mapping != nil {
		gate = &adhoc.Gate{Engine: engine, Mapping: mapping, Keys: keyFuncs}
	}

	return &App{
		Config:   cfg,
		Pool:     pool,
		Engine:   engine,
		Registry: registry,
		Stats:    statsManager,
		Streamer: strm,
		Online:   online,
		Active:   active,
		Adhoc:    gate,
	}, nil
}

// Run starts the streamer and the active-client manager under ctx,
// blocking until ctx stops or the streamer exits with an error.
func (a *App) Run(ctx *stopper.Context) error {
	ctx.Go(func() error {
		return a.Streamer.Start(ctx)
	})
	if err := a.Active.Start(ctx); err != nil {
		return errors.Wrap(err, "wiring: starting active-client manager")
	}
	select {
	case <-ctx.Stopping():
	case <-ctx.Done():
	}
	return a.Active.Close()
}
