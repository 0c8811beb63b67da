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

// Package window implements the Virtualized Window Manager (spec
// §4.7): a bidirectional, paged view over an ordered query that keeps
// a sliding `[firstRowIndex, firstRowIndex+rowsLength)` range loaded as
// the caller scrolls, without ever materializing the full result set.
package window

import (
	"math"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/pkg/errors"
)

// MinPageSize is the floor on how many rows a single page fetch
// requests (spec §4.7 "Paging uses anchors... fetches
// max(MIN_PAGE_SIZE=100, ...) rows per page").
const MinPageSize = 100

// pageMultiplier is how many viewports' worth of rows a single page
// fetch overshoots by, so that a fast scroll doesn't immediately
// exhaust the loaded range and force a synchronous re-fetch.
const pageMultiplier = 3

// Direction names which edge of the loaded range a page extends.
type Direction int

const (
	// Forward extends rowsLength past the trailing edge.
	Forward Direction = iota
	// Backward extends firstRowIndex before the leading edge.
	Backward
)

// Row is one loaded row, keyed the same way ivm.Row is (a plain
// column-name-to-value map), kept untyped here so window does not
// import ivm and can page over any ordered row source, including the
// compiled-SQL path (spec §4.1's "Query API" names both paths as
// interchangeable materializations of the same AST).
type Row = map[string]any

// PageFetcher runs one page of a's query, returning rows in AST order.
// Implementations compose a.Start and a.Limit into whatever execution
// path backs them (SQL compiler or IVM Query.Run); window only ever
// calls this with those two fields populated.
type PageFetcher func(a *ast.AST) ([]Row, error)

// RowID extracts the identity a permalink or anchor refers to.
type RowID func(Row) string

// Params configures a Manager. EstimateSize and GetScrollOffset are
// named directly after spec §4.7's inputs; both are pixel functions
// supplied by the caller's rendering layer.
type Params struct {
	Base           *ast.AST
	Fetch          PageFetcher
	RowID          RowID
	EstimateSize   func(index int) float64
	GetScrollOffset func() float64
	// ListContextParams is opaque to window; changing it (by identity,
	// via SetContextParams) resets all loaded state (spec §4.7
	// "Changing listContextParams resets all state").
	ListContextParams any
	// PermalinkID, if set, anchors the initial load to this row's id
	// rather than the start of the result set (spec §4.7).
	PermalinkID string
}

// Manager is the Virtualized Window Manager (spec §4.7).
type Manager struct {
	p Params

	rows             []Row
	firstRowIndex    int
	atStart          bool
	atEnd            bool
	estimatedTotal   int
	permalinkNotFound bool
}

// New constructs a Manager with no rows loaded; callers call
// LoadInitial (or rely on the permalink resolving) before reading
// Rows.
func New(p Params) *Manager {
	m := &Manager{p: p}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.rows = nil
	m.firstRowIndex = 0
	m.atStart = false
	m.atEnd = false
	m.estimatedTotal = 0
	m.permalinkNotFound = false
}

// SetContextParams replaces the opaque context and resets every piece
// of loaded state (spec §4.7 "Changing listContextParams resets all
// state (rows, anchors, total, permalink)").
func (m *Manager) SetContextParams(params any) {
	m.p.ListContextParams = params
	m.reset()
}

// Rows returns the currently loaded window, in query order.
func (m *Manager) Rows() []Row { return m.rows }

// FirstRowIndex is the logical index of Rows()[0] within the full
// ordered result set.
func (m *Manager) FirstRowIndex() int { return m.firstRowIndex }

// AtStart reports whether the loaded window includes the very first
// row of the result set.
func (m *Manager) AtStart() bool { return m.atStart }

// AtEnd reports whether the loaded window includes the very last row.
func (m *Manager) AtEnd() bool { return m.atEnd }

// Total returns the exact row count once both edges have been seen
// (spec §4.7 "total is undefined until both atStart and atEnd are
// true"), and false otherwise.
func (m *Manager) Total() (int, bool) {
	if m.atStart && m.atEnd {
		return m.estimatedTotal, true
	}
	return 0, false
}

// EstimatedTotal returns the running estimate of the result size
// (spec §4.7 "max of all observed (firstRowIndex+rowsLength) plus one
// skeleton row if !atEnd").
func (m *Manager) EstimatedTotal() int { return m.estimatedTotal }

// PermalinkNotFound reports whether the most recent permalink
// resolution failed to locate PermalinkID (spec §4.7).
func (m *Manager) PermalinkNotFound() bool { return m.permalinkNotFound }

func (m *Manager) pageSize() int {
	size := m.p.EstimateSize(m.firstRowIndex)
	if size <= 0 {
		size = 1
	}
	viewport := m.p.GetScrollOffset()
	if viewport <= 0 {
		viewport = size * MinPageSize
	}
	rows := int(math.Ceil(viewport/size)) * pageMultiplier
	if rows < MinPageSize {
		rows = MinPageSize
	}
	return rows
}

// LoadInitial loads the first page of the result set, or, if
// PermalinkID is set, the page containing that row (spec §4.7
// "Permalink anchors the initial position to a specific row by id").
func (m *Manager) LoadInitial() error {
	if m.p.PermalinkID != "" {
		return m.loadPermalink()
	}
	return m.loadForward(nil, m.pageSize())
}

func (m *Manager) loadPermalink() error {
	// Permalink resolution is a forward scan from the start of the
	// result set until the target row is observed or the result set is
	// exhausted; it does not assume the backing store can seek by an
	// arbitrary non-key column. This mirrors the Forward page fetch
	// below but does not stop at the first page.
	size := m.pageSize()
	var start *ast.StartPoint
	var all []Row
	for {
		page, err := m.fetch(start, size, Forward)
		if err != nil {
			return err
		}
		all = append(all, page...)
		for i, r := range page {
			if m.p.RowID(r) == m.p.PermalinkID {
				idx := len(all) - len(page) + i
				m.adoptWindow(all, 0, len(page) < size)
				lo := idx - size/2
				if lo < 0 {
					lo = 0
				}
				hi := lo + size
				if hi > len(all) {
					hi = len(all)
					lo = hi - size
					if lo < 0 {
						lo = 0
					}
				}
				m.rows = all[lo:hi]
				m.firstRowIndex = lo
				m.atStart = lo == 0
				m.atEnd = hi == len(all) && len(page) < size
				m.bumpEstimate(m.firstRowIndex + len(m.rows))
				m.permalinkNotFound = false
				return nil
			}
		}
		if len(page) < size {
			m.permalinkNotFound = true
			m.rows = nil
			m.firstRowIndex = 0
			m.atStart = true
			m.atEnd = true
			m.bumpEstimate(len(all))
			return nil
		}
		start = anchorAfter(m.p.Base, page[len(page)-1])
	}
}

func (m *Manager) adoptWindow(rows []Row, first int, atEnd bool) {
	m.rows = rows
	m.firstRowIndex = first
	m.atEnd = atEnd
}

// LoadMore extends the loaded window in dir by one page (spec §4.7
// "Paging uses anchors... fetches rows per page in the scroll
// direction"). It is a no-op once the corresponding edge marker is
// already set.
func (m *Manager) LoadMore(dir Direction) error {
	size := m.pageSize()
	switch dir {
	case Forward:
		if m.atEnd || len(m.rows) == 0 {
			if len(m.rows) == 0 {
				return m.loadForward(nil, size)
			}
			return nil
		}
		anchor := anchorAfter(m.p.Base, m.rows[len(m.rows)-1])
		page, err := m.fetch(anchor, size, Forward)
		if err != nil {
			return err
		}
		m.rows = append(m.rows, page...)
		m.atEnd = len(page) < size
		m.bumpEstimate(m.firstRowIndex + len(m.rows))
		return nil
	case Backward:
		if m.atStart || len(m.rows) == 0 {
			if len(m.rows) == 0 {
				return m.loadForward(nil, size)
			}
			return nil
		}
		anchor := anchorBefore(m.p.Base, m.rows[0])
		page, err := m.fetch(anchor, size, Backward)
		if err != nil {
			return err
		}
		m.rows = append(page, m.rows...)
		m.firstRowIndex -= len(page)
		m.atStart = len(page) < size
		if m.atStart {
			m.firstRowIndex = 0
		}
		m.bumpEstimate(m.firstRowIndex + len(m.rows))
		return nil
	default:
		return errors.Errorf("window: unknown direction %d", dir)
	}
}

func (m *Manager) loadForward(start *ast.StartPoint, size int) error {
	page, err := m.fetch(start, size, Forward)
	if err != nil {
		return err
	}
	m.rows = page
	m.firstRowIndex = 0
	m.atStart = true
	m.atEnd = len(page) < size
	m.permalinkNotFound = false
	m.bumpEstimate(len(page))
	return nil
}

func (m *Manager) fetch(start *ast.StartPoint, size int, dir Direction) ([]Row, error) {
	a := m.p.Base.Clone()
	a.Start = start
	limit := uint(size)
	a.Limit = &limit
	if dir == Backward {
		a.OrderBy = reversed(a.OrderBy)
	}
	rows, err := m.p.Fetch(a)
	if err != nil {
		return nil, errors.Wrap(err, "window: fetch page")
	}
	if dir == Backward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows, nil
}

// bumpEstimate raises estimatedTotal to observed if it's larger, then
// adds one skeleton row unless the end has been reached (spec §4.7
// "estimatedTotal is max of all observed (firstRowIndex+rowsLength)
// plus one skeleton row if !atEnd").
func (m *Manager) bumpEstimate(observed int) {
	if observed > m.estimatedTotal {
		m.estimatedTotal = observed
	}
	if !m.atEnd {
		m.estimatedTotal++
	}
}

func reversed(terms []ast.OrderTerm) []ast.OrderTerm {
	out := make([]ast.OrderTerm, len(terms))
	for i, t := range terms {
		dir := ast.Asc
		if t.Direction == ast.Asc {
			dir = ast.Desc
		}
		out[i] = ast.OrderTerm{Column: t.Column, Direction: dir}
	}
	return out
}

// anchorAfter builds the seek anchor for the page following row,
// exclusive of row itself.
func anchorAfter(a *ast.AST, row Row) *ast.StartPoint {
	return &ast.StartPoint{Row: anchorRow(a, row), Exclusive: true}
}

// anchorBefore builds the seek anchor for the page preceding row, used
// with a's order reversed so the backing fetch walks toward the start.
func anchorBefore(a *ast.AST, row Row) *ast.StartPoint {
	return &ast.StartPoint{Row: anchorRow(a, row), Exclusive: true}
}

func anchorRow(a *ast.AST, row Row) map[string]any {
	out := make(map[string]any, len(a.OrderBy))
	for _, t := range a.OrderBy {
		out[t.Column.Raw()] = row[t.Column.Raw()]
	}
	return out
}
