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

package compiler

import "fmt"

// ErrorKind discriminates the CompileError variants named in spec §7.
type ErrorKind int

// The two CompileError variants spec.md §4.1/§7 names.
const (
	// UnboundStaticParameter means a `static` placeholder was not bound
	// to a value before Compile ran.
	UnboundStaticParameter ErrorKind = iota
	// InvalidCorrelation means a Correlation's parent/child field slices
	// have mismatched (or zero) length.
	InvalidCorrelation
)

func (k ErrorKind) String() string {
	switch k {
	case UnboundStaticParameter:
		return "UnboundStaticParameter"
	case InvalidCorrelation:
		return "InvalidCorrelation"
	default:
		return "Unknown"
	}
}

// CompileError is returned by Compile for programmer errors: malformed
// ASTs that should have been caught by ast.Validate but weren't, or
// static parameters left unbound (spec §7: "Compile and plan errors are
// programmer errors; they abort the call synchronously").
type CompileError struct {
	Kind ErrorKind
	Msg  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile: %s: %s", e.Kind, e.Msg)
}

func unboundParameter(name string) error {
	return &CompileError{Kind: UnboundStaticParameter, Msg: fmt.Sprintf("static parameter %q was not bound", name)}
}

func invalidCorrelation(msg string) error {
	return &CompileError{Kind: InvalidCorrelation, Msg: msg}
}
