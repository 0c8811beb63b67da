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

// Package streamer implements the ordered, resumable change log that
// feeds committed upstream transactions to IVM sources: a persistent
// log with watermarked subscribers, catchup/backup semantics, ownership
// fencing, and retention purging (spec §4.5). It is grounded on the
// Forwarder/Storer shape of internal/source/cdc/resolver.go, adapted
// from that file's single-sink "resolved timestamp" model to the
// fan-out multi-subscriber model the query engine needs.
package streamer

import "github.com/cockroachdb/zero-ivm/internal/util/watermark"

// Kind identifies the variant of a ChangeStreamMessage (spec §6
// "Change-stream record format").
type Kind string

// The seven message kinds named by spec §6.
const (
	KindStatus   Kind = "status"
	KindBegin    Kind = "begin"
	KindData     Kind = "data"
	KindCommit   Kind = "commit"
	KindRollback Kind = "rollback"
	KindControl  Kind = "control"
	KindError    Kind = "error"
)

// Tag identifies the row-level operation a Data payload carries.
type Tag string

// The four data tags named by spec §6.
const (
	TagInsert   Tag = "insert"
	TagUpdate   Tag = "update"
	TagDelete   Tag = "delete"
	TagTruncate Tag = "truncate"
)

// BeginPayload is the payload of a KindBegin message: the watermark
// the transaction will write on commit (spec §6, §3 Change-Log Entry).
type BeginPayload struct {
	CommitWatermark watermark.Watermark
}

// DataPayload is the payload of a KindData message.
type DataPayload struct {
	Tag      Tag
	Relation string
	New      map[string]any
	Old      map[string]any
	Key      map[string]any
}

// CommitPayload is the payload of a KindCommit message.
type CommitPayload struct {
	Watermark watermark.Watermark
}

// ControlKind distinguishes control-channel signals from ordinary
// stream data (spec §4.5 "Any state --reset-required control--> Shutdown").
type ControlKind string

// ControlResetRequired is the one control signal the spec names.
const ControlResetRequired ControlKind = "reset-required"

// ControlPayload is the payload of a KindControl message.
type ControlPayload struct {
	Control ControlKind
	Reason  string
}

// ErrorPayload is the payload of a KindError message (spec §6).
type ErrorPayload struct {
	Type    string
	Message string
}

// Message is the generic [kind, payload, meta?] tuple a ChangeSource
// emits and a Forwarder consumes (spec §6).
type Message struct {
	Kind    Kind
	Begin   *BeginPayload
	Data    *DataPayload
	Commit  *CommitPayload
	Control *ControlPayload
	Error   *ErrorPayload
}
