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

// Package watermark implements the lex-ordered commit markers used by
// the change-streamer (spec §3 "Change-Log Entry", §4.5). A Watermark
// is a (nanos, logical) pair rendered so that ordinary string
// comparison agrees with commit order, the same trick the teacher's
// internal/util/hlc package uses for CockroachDB's HLC timestamps.
package watermark

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A Watermark uniquely orders commits in the change log. The zero value
// sorts before every non-zero Watermark.
type Watermark struct {
	nanos   int64
	logical int32
}

// New constructs a Watermark from its components.
func New(nanos int64, logical int32) Watermark {
	return Watermark{nanos: nanos, logical: logical}
}

// Zero is the minimum Watermark.
func Zero() Watermark { return Watermark{} }

// IsZero reports whether w is the zero value.
func (w Watermark) IsZero() bool { return w.nanos == 0 && w.logical == 0 }

// Nanos returns the physical component.
func (w Watermark) Nanos() int64 { return w.nanos }

// Logical returns the logical (tie-breaking) component.
func (w Watermark) Logical() int32 { return w.logical }

// Next returns the Watermark immediately following w in the logical
// dimension, used to order multiple changes that share one physical
// timestamp within a transaction.
func (w Watermark) Next() Watermark {
	return Watermark{nanos: w.nanos, logical: w.logical + 1}
}

// String renders a fixed-width, zero-padded representation so that
// lexicographic string comparison (as used by the persisted change log
// and by subscribers comparing initialWatermark strings) agrees with
// Compare.
func (w Watermark) String() string {
	return fmt.Sprintf("%020d.%010d", w.nanos, w.logical)
}

// Parse is the inverse of String.
func Parse(s string) (Watermark, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return Watermark{}, errors.Errorf("malformed watermark %q", s)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Watermark{}, errors.Wrapf(err, "malformed watermark %q", s)
	}
	logical, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return Watermark{}, errors.Wrapf(err, "malformed watermark %q", s)
	}
	return Watermark{nanos: nanos, logical: int32(logical)}, nil
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
func Compare(a, b Watermark) int {
	switch {
	case a.nanos < b.nanos:
		return -1
	case a.nanos > b.nanos:
		return 1
	case a.logical < b.logical:
		return -1
	case a.logical > b.logical:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b.
func Less(a, b Watermark) bool { return Compare(a, b) < 0 }

// Max returns the larger of a and b.
func Max(a, b Watermark) Watermark {
	if Less(a, b) {
		return b
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b Watermark) Watermark {
	if Less(b, a) {
		return b
	}
	return a
}
