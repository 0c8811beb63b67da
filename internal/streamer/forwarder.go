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
	"sync"

	"github.com/cockroachdb/zero-ivm/internal/util/watermark"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// txState is the Forwarder/Storer's per-transaction state (spec §4.5
// "State machine per transaction").
type txState int

const (
	stateIdle txState = iota
	stateInTx
)

// Forwarder consumes the ordered Message stream from a ChangeSource,
// buffers each transaction's rows, and durably commits them through an
// ownership-fenced Store.CommitOwned call. It is grounded
// on the resolver's Process/flush pair in
// internal/source/cdc/resolver.go, replacing that file's single
// resolved-timestamp sink with the spec's explicit begin/data/commit
// message sequence (spec §4.5).
type Forwarder struct {
	store Store
	owner string

	// onCommit fans the committed transaction out to live subscribers
	// (spec §4.5 "fire a consumed-commit ack"); nil is valid (no live
	// tailers yet registered).
	onCommit func(wm watermark.Watermark, entries []LogEntry)

	mu              sync.Mutex
	state           txState
	commitWatermark watermark.Watermark
	pending         []LogEntry
	pos             int
}

// NewForwarder constructs a Forwarder that commits as owner.
func NewForwarder(store Store, owner string, onCommit func(watermark.Watermark, []LogEntry)) *Forwarder {
	return &Forwarder{store: store, owner: owner, onCommit: onCommit}
}

// Process advances the state machine by one message (spec §4.5).
// Returning an *AutoResetSignal or *OwnershipLostSignal means the
// caller must stop consuming and shut the streamer down; every other
// error is message-local and may be surfaced without tearing down the
// connection.
func (f *Forwarder) Process(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch msg.Kind {
	case KindBegin:
		if f.state != stateIdle {
			return errors.New("streamer: begin received while in transaction")
		}
		if msg.Begin == nil {
			return errors.New("streamer: begin message missing payload")
		}
		f.state = stateInTx
		f.commitWatermark = msg.Begin.CommitWatermark
		f.pending = f.pending[:0]
		f.pos = 1 // pos=0 is implicitly the begin row itself
		return nil

	case KindData:
		if f.state != stateInTx {
			return errors.New("streamer: data received outside transaction")
		}
		if msg.Data == nil {
			return errors.New("streamer: data message missing payload")
		}
		encoded, err := encodeData(*msg.Data)
		if err != nil {
			return err
		}
		f.pending = append(f.pending, LogEntry{
			Watermark: f.commitWatermark,
			Pos:       f.pos,
			Change:    encoded,
		})
		f.pos++
		return nil

	case KindCommit:
		if f.state != stateInTx {
			return errors.New("streamer: commit received outside transaction")
		}
		if msg.Commit == nil {
			return errors.New("streamer: commit message missing payload")
		}
		wm := msg.Commit.Watermark
		entries := append([]LogEntry(nil), f.pending...)
		entries = append(entries, LogEntry{Watermark: wm, Pos: f.pos})

		err := f.store.CommitOwned(ctx, f.owner, wm, func(appendFn func(LogEntry) error) error {
			for _, e := range entries {
				if err := appendFn(e); err != nil {
					return err
				}
			}
			return nil
		})
		f.state = stateIdle
		f.pending = nil
		if err != nil {
			return &OwnershipLostSignal{Owner: f.owner}
		}
		if f.onCommit != nil {
			f.onCommit(wm, entries)
		}
		return nil

	case KindRollback:
		if f.state != stateInTx {
			return errors.New("streamer: rollback received outside transaction")
		}
		f.state = stateIdle
		f.pending = nil
		return nil

	case KindStatus:
		return nil

	case KindControl:
		if msg.Control != nil && msg.Control.Control == ControlResetRequired {
			return &AutoResetSignal{Reason: msg.Control.Reason}
		}
		return nil

	case KindError:
		if msg.Error != nil {
			logrus.WithField("type", msg.Error.Type).Warn("streamer: upstream error message")
		}
		return nil

	default:
		return errors.Errorf("streamer: unknown message kind %q", msg.Kind)
	}
}
