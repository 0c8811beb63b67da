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

package ivm

// Filter is a stateless transformer that drops changes whose row
// doesn't satisfy Predicate (spec §4.4). An Edit that only satisfies
// the predicate on one side is rewritten to an Add or Remove so
// downstream operators never see a row crossing the boundary as a
// plain Edit.
type Filter struct {
	Predicate func(Row) bool
	output    Operator
}

// NewFilter constructs a Filter with the given predicate.
func NewFilter(predicate func(Row) bool) *Filter {
	return &Filter{Predicate: predicate}
}

// SetOutput wires the operator that receives every change Filter lets
// through.
func (f *Filter) SetOutput(output Operator) { f.output = output }

// Push implements Operator.
func (f *Filter) Push(c Change) {
	switch v := c.(type) {
	case Add:
		if f.Predicate(v.Row) {
			f.emit(v)
		}
	case Remove:
		if f.Predicate(v.Row) {
			f.emit(v)
		}
	case Edit:
		oldMatch := f.Predicate(v.OldRow)
		newMatch := f.Predicate(v.Row)
		switch {
		case oldMatch && newMatch:
			f.emit(v)
		case oldMatch && !newMatch:
			f.emit(Remove{Row: v.OldRow})
		case !oldMatch && newMatch:
			f.emit(Add{Row: v.Row})
		}
	}
}

func (f *Filter) emit(c Change) {
	if f.output != nil {
		f.output.Push(c)
	}
}
