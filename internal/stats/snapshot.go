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

package stats

import (
	"encoding/json"

	"github.com/cockroachdb/zero-ivm/internal/stats/hll"
	"github.com/pkg/errors"
)

// SnapshotVersion is bumped whenever the Snapshot envelope's shape
// changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the versioned, JSON-serializable image of a Manager's
// state (spec §4.3 "Snapshot/restore round-trips sketches and counts
// through a versioned JSON envelope").
type Snapshot struct {
	Version   int                    `json:"version"`
	RowCounts map[string]int64       `json:"rowCounts"`
	Deletions map[string]int64       `json:"deletions"`
	Sketches  map[string]*hll.Sketch `json:"sketches"` // key: "table\x00column"
}

func sketchWireKey(k columnKey) string { return k.table + "\x00" + k.column }

// Snapshot captures the Manager's current state.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		Version:   SnapshotVersion,
		RowCounts: make(map[string]int64, len(m.mu.rowCounts)),
		Deletions: make(map[string]int64, len(m.mu.deletions)),
		Sketches:  make(map[string]*hll.Sketch, len(m.mu.sketches)),
	}
	for k, v := range m.mu.rowCounts {
		snap.RowCounts[k] = v
	}
	for k, v := range m.mu.deletions {
		snap.Deletions[k] = v
	}
	for k, v := range m.mu.sketches {
		snap.Sketches[sketchWireKey(k)] = v
	}
	return snap
}

// Restore replaces the Manager's state with a previously captured
// Snapshot. A version mismatch aborts the restore and leaves the
// Manager untouched, per spec §7 ("Stats restore version mismatch
// aborts restore and falls back to a fresh rebuild").
func (m *Manager) Restore(snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		return &VersionMismatchError{Got: snap.Version, Want: SnapshotVersion}
	}

	sketches := make(map[columnKey]*hll.Sketch, len(snap.Sketches))
	for wireKey, s := range snap.Sketches {
		table, column, err := splitWireKey(wireKey)
		if err != nil {
			return err
		}
		sketches[columnKey{table: table, column: column}] = s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.rowCounts = cloneCounts(snap.RowCounts)
	m.mu.deletions = cloneCounts(snap.Deletions)
	m.mu.sketches = sketches
	return nil
}

func cloneCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func splitWireKey(wireKey string) (table, column string, err error) {
	for i := 0; i < len(wireKey); i++ {
		if wireKey[i] == 0 {
			return wireKey[:i], wireKey[i+1:], nil
		}
	}
	return "", "", errors.Errorf("malformed sketch key %q", wireKey)
}

// VersionMismatchError is defined in hll.go's package but re-exported
// here under the stats package name so callers can use errors.As
// against either the manager or the sketch-level error.
type VersionMismatchError = hll.VersionMismatchError

// MarshalSnapshot is a convenience wrapper around json.Marshal.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	return b, errors.WithStack(err)
}

// UnmarshalSnapshot is a convenience wrapper around json.Unmarshal.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.WithStack(err)
	}
	return &s, nil
}
