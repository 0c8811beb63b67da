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
	"fmt"

	"github.com/cockroachdb/zero-ivm/internal/util/watermark"
)

// WatermarkTooOldError is returned to a single serving subscriber whose
// initialWatermark is below the earliest retained entry (spec §3
// Subscriber invariant, §7 StreamError.WatermarkTooOld).
type WatermarkTooOldError struct {
	Earliest  watermark.Watermark
	Requested watermark.Watermark
}

func (e *WatermarkTooOldError) Error() string {
	return fmt.Sprintf("streamer: watermark too old: earliest=%s requested=%s", e.Earliest, e.Requested)
}

// WrongReplicaVersionError is returned when a subscriber's
// replicaVersion does not match the server's (spec §4.5, §7).
type WrongReplicaVersionError struct {
	Server   string
	Proposed string
}

func (e *WrongReplicaVersionError) Error() string {
	return fmt.Sprintf("streamer: wrong replica version: server=%s proposed=%s", e.Server, e.Proposed)
}

// AutoResetSignal is a fatal error raised against a backup subscriber
// that is too far behind to catch up incrementally (spec §4.5 "backup
// mode... raises fatal AutoResetSignal"). Unlike WatermarkTooOldError
// it is not scoped to one subscriber: receiving it means the whole
// replica must be rebuilt from scratch.
type AutoResetSignal struct {
	Reason string
}

func (e *AutoResetSignal) Error() string {
	return "streamer: auto reset required: " + e.Reason
}

// OwnershipLostSignal wraps store.ErrOwnershipLost with the streamer's
// own identity for logging (spec §7 StreamError.OwnershipLost).
type OwnershipLostSignal struct {
	Owner string
}

func (e *OwnershipLostSignal) Error() string {
	return "streamer: ownership lost, was " + e.Owner
}

// AbortError is a clean, non-fatal shutdown request (spec §7
// StreamError.AbortError, §5 "honors an AbortError immediately by
// shutting down cleanly").
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "streamer: aborted: " + e.Reason
}
