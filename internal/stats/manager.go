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

// Package stats owns the per-table row counts and per-column HLL
// sketches that the planner's cost model (spec §4.2) consults for
// semi-join selectivity and fanout estimates (spec §4.3).
package stats

import (
	"context"
	"sync"

	"github.com/cockroachdb/zero-ivm/internal/stats/hll"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/cockroachdb/zero-ivm/internal/util/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Confidence buckets the reliability of a cardinality estimate, keyed
// to the observed row count the way spec §4.3 describes: "none<100,
// med<1000, high>=1000".
type Confidence int

const (
	// ConfidenceNone means the table has fewer than 100 rows.
	ConfidenceNone Confidence = iota
	// ConfidenceMedium means the table has between 100 and 999 rows.
	ConfidenceMedium
	// ConfidenceHigh means the table has 1000 or more rows.
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceNone:
		return "none"
	case ConfidenceMedium:
		return "med"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

func confidenceFor(rowCount int64) Confidence {
	switch {
	case rowCount >= 1000:
		return ConfidenceHigh
	case rowCount >= 100:
		return ConfidenceMedium
	default:
		return ConfidenceNone
	}
}

// DefaultRebuildThreshold is the deletion ratio above which
// ShouldRebuild reports true, per spec §4.3.
const DefaultRebuildThreshold = 0.2

// columnKey identifies a single sketch.
type columnKey struct {
	table  string
	column string
}

// DataSource lets Rebuild re-scan a table's current contents from
// whatever storage backs it (an IVM Source, or a direct SQL scan).
type DataSource interface {
	// ScanColumn streams every non-deleted value currently stored for
	// table.column, calling fn once per row. A nil value represents SQL
	// NULL.
	ScanColumn(ctx context.Context, table ident.Table, column ident.Ident, fn func(value any) error) error
	// Columns lists every column a table's sketches should track.
	Columns(table ident.Table) []ident.Ident
}

var (
	sketchBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_hll_rebuilds_total",
		Help: "the number of times a table's sketches were rebuilt from scratch",
	}, metrics.TableLabels)
	sketchBuildDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stats_hll_rebuild_duration_seconds",
		Help:    "the length of time it took to rebuild a table's sketches",
		Buckets: metrics.LatencyBuckets,
	}, metrics.TableLabels)
)

// Manager owns every table's row/deletion counts and every
// (table,column) HLL sketch.
type Manager struct {
	mu struct {
		sync.RWMutex
		sketches  map[columnKey]*hll.Sketch
		rowCounts map[string]int64
		deletions map[string]int64
	}

	rebuildGroup singleflight.Group
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	m := &Manager{}
	m.mu.sketches = make(map[columnKey]*hll.Sketch)
	m.mu.rowCounts = make(map[string]int64)
	m.mu.deletions = make(map[string]int64)
	return m
}

func tableKey(t ident.Table) string { return t.Raw() }

// OnAdd records the insertion of row into table, per spec §4.3.
func (m *Manager) OnAdd(table ident.Table, row map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := tableKey(table)
	m.mu.rowCounts[tk]++
	for col, val := range row {
		m.sketchLocked(table, ident.New(col)).AddAny(val)
	}
}

// OnRemove records the deletion of row from table. HLL sketches cannot
// remove a value, so only the row and deletion counters change.
func (m *Manager) OnRemove(table ident.Table, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := tableKey(table)
	if m.mu.rowCounts[tk] > 0 {
		m.mu.rowCounts[tk]--
	}
	m.mu.deletions[tk]++
}

// OnEdit records an update to a row. Only columns whose value actually
// changed are re-added to their sketch.
func (m *Manager) OnEdit(table ident.Table, oldRow, newRow map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for col, newVal := range newRow {
		if oldVal, ok := oldRow[col]; ok && equalValue(oldVal, newVal) {
			continue
		}
		m.sketchLocked(table, ident.New(col)).AddAny(newVal)
	}
}

func equalValue(a, b any) bool {
	return a == b
}

// sketchLocked returns (creating if necessary) the sketch for
// table.column. Callers must hold mu.
func (m *Manager) sketchLocked(table ident.Table, column ident.Ident) *hll.Sketch {
	key := columnKey{table: tableKey(table), column: column.Raw()}
	s, ok := m.mu.sketches[key]
	if !ok {
		s = hll.New()
		m.mu.sketches[key] = s
	}
	return s
}

// RowCount returns the current estimated row count for a table.
func (m *Manager) RowCount(table ident.Table) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mu.rowCounts[tableKey(table)]
}

// Cardinality returns the estimated distinct-value count for a column
// along with a confidence level derived from the table's row count.
func (m *Manager) Cardinality(table ident.Table, column ident.Ident) (uint64, Confidence) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := columnKey{table: tableKey(table), column: column.Raw()}
	s, ok := m.mu.sketches[key]
	if !ok {
		return 0, ConfidenceNone
	}
	rowCount := m.mu.rowCounts[tableKey(table)]
	est := s.Count()
	// The estimate can never exceed the observed row count (spec §8
	// property 3); clamp to preserve that invariant even though HLL is
	// probabilistic and can over-count on small inputs.
	if rowCount > 0 && est > uint64(rowCount) {
		est = uint64(rowCount)
	}
	return est, confidenceFor(rowCount)
}

// Fanout returns rowCount/cardinality for a column, i.e. the average
// number of rows per distinct value. A column with zero cardinality
// returns a fanout of 1 (every row is its own group).
func (m *Manager) Fanout(table ident.Table, column ident.Ident) float64 {
	rowCount := m.RowCount(table)
	card, _ := m.Cardinality(table, column)
	if card == 0 {
		return 1
	}
	return float64(rowCount) / float64(card)
}

// ShouldRebuild reports whether a table's deletion ratio has crossed
// threshold, per spec §4.3. A threshold of 0 uses DefaultRebuildThreshold.
func (m *Manager) ShouldRebuild(table ident.Table, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultRebuildThreshold
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tk := tableKey(table)
	rows := m.mu.rowCounts[tk]
	dels := m.mu.deletions[tk]
	if rows+dels == 0 {
		return false
	}
	ratio := float64(dels) / float64(rows+dels)
	return ratio > threshold
}

// Rebuild re-initializes every sketch for a table from src, and resets
// the table's deletion counter. Concurrent Rebuild calls for the same
// table are collapsed into one scan via singleflight.
func (m *Manager) Rebuild(ctx context.Context, table ident.Table, src DataSource) error {
	tk := tableKey(table)
	_, err, _ := m.rebuildGroup.Do(tk, func() (any, error) {
		timer := prometheus.NewTimer(sketchBuildDurations.WithLabelValues(tk))
		defer timer.ObserveDuration()

		columns := src.Columns(table)
		fresh := make(map[ident.Ident]*hll.Sketch, len(columns))
		var rows int64
		for _, col := range columns {
			s := hll.New()
			fresh[col] = s
		}
		if len(columns) > 0 {
			if err := src.ScanColumn(ctx, table, columns[0], func(value any) error {
				rows++
				fresh[columns[0]].AddAny(value)
				return nil
			}); err != nil {
				return nil, err
			}
			for _, col := range columns[1:] {
				if err := src.ScanColumn(ctx, table, col, func(value any) error {
					fresh[col].AddAny(value)
					return nil
				}); err != nil {
					return nil, err
				}
			}
		}

		m.mu.Lock()
		for col, s := range fresh {
			m.mu.sketches[columnKey{table: tk, column: col.Raw()}] = s
		}
		m.mu.rowCounts[tk] = rows
		m.mu.deletions[tk] = 0
		m.mu.Unlock()

		sketchBuilds.WithLabelValues(tk).Inc()
		log.WithFields(log.Fields{"table": table, "rows": rows}).Debug("rebuilt stats sketches")
		return nil, nil
	})
	return errors.WithStack(err)
}
