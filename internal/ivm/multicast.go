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

// Multicast fans a single Source's changes out to every materialized
// query currently reading it. A Source has one output slot; Multicast
// is what lets more than one Query.materialize() share the same
// Source.
type Multicast struct {
	outputs []Operator
}

// NewMulticast constructs an empty Multicast.
func NewMulticast() *Multicast { return &Multicast{} }

// Add registers a new downstream operator and returns a function that
// removes it again, for Query.preload()'s cleanup() and for view
// teardown when a materialization is released (spec §3 "IVM operators
// live for the duration of a materialization").
func (m *Multicast) Add(output Operator) (remove func()) {
	m.outputs = append(m.outputs, output)
	idx := len(m.outputs) - 1
	return func() {
		m.outputs[idx] = nil
	}
}

// Push implements Operator.
func (m *Multicast) Push(c Change) {
	for _, o := range m.outputs {
		if o != nil {
			o.Push(c)
		}
	}
}
