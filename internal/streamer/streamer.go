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
	"context"
	"time"

	"github.com/cockroachdb/zero-ivm/internal/util/stopper"
	"github.com/cockroachdb/zero-ivm/internal/util/watermark"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ChangeSource is the upstream producer of ChangeStreamMessages, e.g.
// a logical-replication client. Stream returns a channel that the
// Streamer drains until it closes or ctx is done; from is the
// watermark to resume at (spec §4.5 "Starting watermark").
type ChangeSource interface {
	Stream(ctx context.Context, from watermark.Watermark) (<-chan Message, error)
}

// Streamer ties together a ChangeSource, a Forwarder, and a Hub under
// ownership fencing and retry, the orchestrator spec §4.5 describes in
// prose. It is grounded on the Resolvers/resolver lifecycle of
// internal/source/cdc/resolver.go (newResolver, readInto's catchup
// loop, retireLoop's periodic purge), adapted to the spec's explicit
// multi-subscriber Hub rather than that file's single sink.
type Streamer struct {
	source         ChangeSource
	store          Store
	hub            *Hub
	forwarder      *Forwarder
	owner          string
	ownerAddress   string
	replicaVersion string
	purgeInterval  time.Duration
}

// New constructs a Streamer. owner/ownerAddress identify this process
// for the ownership fence; replicaVersion is compared against
// subscribers' ReplicaVersion and used as a starting-watermark floor.
func New(source ChangeSource, store Store, owner, ownerAddress, replicaVersion string, purgeInterval time.Duration) *Streamer {
	s := &Streamer{
		source:         source,
		store:          store,
		owner:          owner,
		ownerAddress:   ownerAddress,
		replicaVersion: replicaVersion,
		purgeInterval:  purgeInterval,
	}
	s.hub = NewHub(store, replicaVersion)
	s.forwarder = NewForwarder(store, owner, s.hub.Broadcast)
	return s
}

// Hub exposes the subscriber registry for the query engine / wire
// server to join against.
func (s *Streamer) Hub() *Hub { return s.hub }

// Start claims ownership, resolves the starting watermark, and runs
// the retrying stream loop plus the periodic purge task under ctx
// until ctx stops or a fatal StreamError is hit (spec §4.5, §5
// "honors an AbortError immediately").
func (s *Streamer) Start(ctx *stopper.Context) error {
	if err := s.store.ClaimOwnership(ctx, s.owner, s.ownerAddress); err != nil {
		return err
	}

	ctx.Go(func() error {
		return s.runPurgeLoop(ctx)
	})

	return s.runStreamLoop(ctx)
}

// startingWatermark implements spec §4.5 "the streamer asks its
// ChangeSource to start from max(lastWatermark, replicaVersion)": the
// replica version is itself parsed as a watermark floor, since both
// are lex-ordered strings over the same commit timeline.
func (s *Streamer) startingWatermark(ctx context.Context) (watermark.Watermark, error) {
	last, err := s.store.LastWatermark(ctx)
	if err != nil {
		return watermark.Zero(), err
	}
	floor, err := watermark.Parse(s.replicaVersion)
	if err != nil {
		return last, nil
	}
	return watermark.Max(last, floor), nil
}

func (s *Streamer) runStreamLoop(ctx *stopper.Context) error {
	from, err := s.startingWatermark(ctx)
	if err != nil {
		return err
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	for {
		select {
		case <-ctx.Stopping():
			return nil
		default:
		}

		nextFrom := from
		err := backoff.Retry(func() error {
			ch, err := s.source.Stream(ctx, nextFrom)
			if err != nil {
				logrus.WithError(err).Warn("streamer: stream start failed, retrying")
				return err
			}
			committed, drainErr := s.drain(ctx, ch)
			if !committed.IsZero() {
				nextFrom = committed
			}
			switch drainErr.(type) {
			case *AutoResetSignal, *OwnershipLostSignal, *AbortError:
				return backoff.Permanent(drainErr)
			}
			return drainErr
		}, policy)

		from = nextFrom
		if err == nil {
			return nil // ctx stopped cleanly
		}
		switch err.(type) {
		case *AutoResetSignal, *OwnershipLostSignal, *AbortError:
			logrus.WithError(err).Error("streamer: fatal error, shutting down")
			return err
		}
		logrus.WithError(err).Warn("streamer: stream failed after retries, resuming from last commit")
	}
}

// drain consumes ch until it closes or ctx stops, feeding every
// message through the Forwarder. It returns the watermark of the last
// transaction it committed (the zero Watermark if none), which
// runStreamLoop uses as the resume point on failure (spec §4.5
// "mid-stream errors ... restart from the last fully committed
// watermark").
func (s *Streamer) drain(ctx context.Context, ch <-chan Message) (watermark.Watermark, error) {
	var lastCommitted watermark.Watermark
	for {
		select {
		case <-ctx.Done():
			return lastCommitted, nil
		case msg, ok := <-ch:
			if !ok {
				return lastCommitted, nil
			}
			if err := s.forwarder.Process(ctx, msg); err != nil {
				return lastCommitted, err
			}
			if msg.Kind == KindCommit {
				lastCommitted = msg.Commit.Watermark
			}
		}
	}
}

func (s *Streamer) runPurgeLoop(ctx context.Context) error {
	interval := s.purgeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastCutoff watermark.Watermark
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff, ok := s.hub.MinAcked()
			if !ok || watermark.Compare(cutoff, lastCutoff) <= 0 {
				continue // no subscriber has advanced since the last purge; reschedule
			}
			n, err := s.store.Purge(ctx, cutoff)
			if err != nil {
				logrus.WithError(err).Warn("streamer: purge failed")
				continue
			}
			lastCutoff = cutoff
			logrus.WithField("rows", n).WithField("cutoff", cutoff.String()).Debug("streamer: purged change log")
		}
	}
}
