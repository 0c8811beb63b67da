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

package adhoc

import (
	"encoding/json"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/queryengine"
	"github.com/cockroachdb/zero-ivm/internal/schema"
	"github.com/pkg/errors"
)

// UnknownNameError is returned when a request's name isn't the
// reserved adhoc entrypoint name (spec §6).
type UnknownNameError struct{ Got string }

func (e *UnknownNameError) Error() string {
	return "adhoc: request name must be " + ReservedName + ", got " + e.Got
}

// Gate is the Adhoc Query Gate (spec §2 "Server-side validated
// entrypoint that accepts a raw AST and produces a Query"). It ties
// together wire decoding, name translation, and structural validation
// before anything reaches the planner, since this is the only
// entrypoint that accepts a tree the server itself did not author.
type Gate struct {
	Engine  *queryengine.Engine
	Mapping *schema.Mapping
	Keys    queryengine.KeyFuncs
}

// Validate decodes and checks raw without building a Query, for
// callers (e.g. an HTTP handler, out of scope per spec §1) that want
// to reject malformed requests before committing to planning.
func (g *Gate) Validate(raw json.RawMessage) (*ast.AST, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errors.Wrap(err, "adhoc: decoding request")
	}
	if req.Name != ReservedName {
		return nil, &UnknownNameError{Got: req.Name}
	}
	clientAST, err := Decode(req.AST)
	if err != nil {
		return nil, err
	}
	serverAST, err := g.Mapping.ToServer(clientAST)
	if err != nil {
		return nil, errors.Wrap(err, "adhoc: translating ast")
	}
	if err := ast.Validate(serverAST, g.Mapping); err != nil {
		return nil, errors.Wrap(err, "adhoc: invalid ast")
	}
	return serverAST, nil
}

// Query validates raw and wires it into a queryengine.Query, ready for
// Materialize/Run/Preload (spec §6 "produces a Query").
func (g *Gate) Query(raw json.RawMessage) (*queryengine.Query, error) {
	serverAST, err := g.Validate(raw)
	if err != nil {
		return nil, err
	}
	return queryengine.New(g.Engine, serverAST, g.Keys), nil
}
