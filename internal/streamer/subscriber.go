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
	"github.com/google/uuid"
)

// Mode distinguishes a live reader from a snapshot-receiver (spec §3
// "Subscriber").
type Mode string

// The two subscriber modes spec §4.5 names.
const (
	ModeServing Mode = "serving"
	ModeBackup  Mode = "backup"
)

// SubscribeRequest is the information a would-be subscriber presents
// when joining the stream (spec §3 "Subscriber").
type SubscribeRequest struct {
	Mode             Mode
	InitialWatermark watermark.Watermark
	ReplicaVersion   string
	ProtocolVersion  int
}

// queue is an unbounded, mutex-guarded FIFO, the "unbounded queue,
// backpressured by consumer" spec §5 names for subscriber delivery.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Message
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, m)
	q.cond.Signal()
}

// pop blocks until a message is available, the queue is closed, or ctx
// is done. ok is false exactly when the queue is closed and drained.
func (q *queue) pop(ctx context.Context) (Message, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		if ctx.Err() != nil {
			return Message{}, false
		}
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return Message{}, false
	}
	m := q.buf[0]
	q.buf = q.buf[1:]
	return m, true
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Subscriber is a single registered reader of the change stream (spec
// §3, §4.5). Its lowest unacked watermark gates log purging.
type Subscriber struct {
	ID               string
	Mode             Mode
	InitialWatermark watermark.Watermark

	q *queue

	mu      sync.Mutex
	unacked watermark.Watermark
}

// Messages returns the next undelivered message, blocking until one
// arrives, the subscriber closes, or ctx is cancelled (spec §5
// "closing is honored at the next message boundary").
func (s *Subscriber) Messages(ctx context.Context) (Message, bool) {
	return s.q.pop(ctx)
}

// Ack records wm as acknowledged, advancing the purge-gating watermark
// (spec §4.5 "Subscribers continuously ack watermarks").
func (s *Subscriber) Ack(wm watermark.Watermark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if watermark.Compare(wm, s.unacked) > 0 {
		s.unacked = wm
	}
}

func (s *Subscriber) ackedWatermark() watermark.Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unacked
}

// Close stops delivery to this subscriber.
func (s *Subscriber) Close() { s.q.close() }

// Hub fans out committed transactions to every registered subscriber
// and answers catchup/reject decisions at subscribe time (spec §4.5
// "Subscribers").
type Hub struct {
	store          Store
	replicaVersion string

	mu   sync.Mutex
	subs map[string]*Subscriber
}

// NewHub constructs a Hub backed by store, enforcing replicaVersion
// against every subscribe request.
func NewHub(store Store, replicaVersion string) *Hub {
	return &Hub{store: store, replicaVersion: replicaVersion, subs: make(map[string]*Subscriber)}
}

// Subscribe admits req, replays persisted history, and registers the
// subscriber for live delivery. The returned Subscriber has already
// been sent a status message and the full backlog through the current
// last watermark; the caller should loop on Messages to continue.
func (h *Hub) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscriber, error) {
	if req.ReplicaVersion != "" && req.ReplicaVersion != h.replicaVersion {
		return nil, &WrongReplicaVersionError{Server: h.replicaVersion, Proposed: req.ReplicaVersion}
	}

	earliest, ok := watermark.Zero(), false
	var err error
	earliest, ok, err = h.store.EarliestWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if ok && watermark.Less(req.InitialWatermark, earliest) {
		if req.Mode == ModeBackup {
			return nil, &AutoResetSignal{Reason: "backup replica is behind retained change log"}
		}
		return nil, &WatermarkTooOldError{Earliest: earliest, Requested: req.InitialWatermark}
	}

	sub := &Subscriber{
		ID:               uuid.NewString(),
		Mode:             req.Mode,
		InitialWatermark: req.InitialWatermark,
		q:                newQueue(),
		unacked:          req.InitialWatermark,
	}

	last, err := h.store.LastWatermark(ctx)
	if err != nil {
		return nil, err
	}
	sub.q.push(Message{Kind: KindStatus, Commit: &CommitPayload{Watermark: last}})

	backlog, err := h.store.ReadLogSince(ctx, req.InitialWatermark)
	if err != nil {
		return nil, err
	}
	for _, msg := range entriesToMessages(backlog) {
		sub.q.push(msg)
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes and closes sub.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Broadcast delivers a freshly committed transaction to every live
// subscriber (spec §4.5, Forwarder's onCommit hook).
func (h *Hub) Broadcast(wm watermark.Watermark, entries []LogEntry) {
	msgs := entriesToMessages(entries)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		for _, m := range msgs {
			sub.q.push(m)
		}
	}
}

// MinAcked returns the lowest unacked watermark across every
// registered subscriber, the purge cutoff input (spec §4.5
// "Purging"). ok is false when there are no subscribers.
func (h *Hub) MinAcked() (wm watermark.Watermark, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		acked := sub.ackedWatermark()
		if !ok || watermark.Less(acked, wm) {
			wm, ok = acked, true
		}
	}
	return wm, ok
}

// entriesToMessages reconstructs the begin/data/commit message
// sequence for a contiguous run of LogEntry rows sharing one
// transaction's watermark, the inverse of Forwarder.Process's encoding.
func entriesToMessages(entries []LogEntry) []Message {
	out := make([]Message, 0, len(entries))
	var i int
	for i < len(entries) {
		wm := entries[i].Watermark
		j := i
		for j < len(entries) && watermark.Compare(entries[j].Watermark, wm) == 0 {
			j++
		}
		tx := entries[i:j]
		out = append(out, Message{Kind: KindBegin, Begin: &BeginPayload{CommitWatermark: wm}})
		for _, e := range tx {
			if e.Change != nil {
				out = append(out, Message{Kind: KindData, Data: decodeData(e.Change)})
			}
		}
		out = append(out, Message{Kind: KindCommit, Commit: &CommitPayload{Watermark: wm}})
		i = j
	}
	return out
}
