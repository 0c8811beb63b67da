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

// Package adhoc implements the Adhoc Query Gate (spec §4, §6): the
// single server-side entrypoint that accepts a raw, client-authored
// AST as JSON, validates it against the AST schema, and turns it into
// a runnable queryengine.Query. Every other entrypoint into the system
// is a compiled-in query a developer wrote; this is the one path a
// caller can hand an arbitrary tree to, so it is also the one path
// that must reject anything malformed before it reaches the planner.
package adhoc

import (
	"encoding/json"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/pkg/errors"
)

// ReservedName is the query name the adhoc entrypoint is registered
// under; a request naming anything else is rejected before its AST is
// even decoded (spec §6 "name must equal the reserved _zero_adhoc").
const ReservedName = "_zero_adhoc"

// Request is the wire envelope the adhoc entrypoint accepts (spec §6
// "Accepts {ast}").
type Request struct {
	Name string          `json:"name"`
	AST  json.RawMessage `json:"ast"`
}

// wireAST mirrors ast.AST but with JSON-friendly field names and a
// recursive wireCondition/wireExpr pair, since ast.Condition/ast.Expr
// are sealed interfaces with no JSON tag of their own. Decode walks
// this shape and rebuilds the real sum types.
type wireAST struct {
	Table   string          `json:"table"`
	Where   *wireCondition  `json:"where"`
	OrderBy []wireOrderTerm `json:"orderBy"`
	Limit   *uint           `json:"limit"`
	Start   *wireStart      `json:"start"`
	Related []wireSubquery  `json:"related"`
}

type wireOrderTerm struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

type wireStart struct {
	Row       map[string]any `json:"row"`
	Exclusive bool           `json:"exclusive"`
}

type wireCorrelation struct {
	ParentField []string `json:"parentField"`
	ChildField  []string `json:"childField"`
}

type wireSubquery struct {
	Alias       string          `json:"alias"`
	Inner       wireAST         `json:"inner"`
	Correlation wireCorrelation `json:"correlation"`
	Hidden      bool            `json:"hidden"`
	Singular    bool            `json:"singular"`
}

// wireCondition's Type discriminates which of the four spec §3
// Condition variants this node is; exactly one of the remaining fields
// is populated accordingly.
type wireCondition struct {
	Type string `json:"type"`

	// simple
	Op    string    `json:"op,omitempty"`
	Left  *wireExpr `json:"left,omitempty"`
	Right *wireExpr `json:"right,omitempty"`

	// and / or
	Conditions []wireCondition `json:"conditions,omitempty"`

	// correlatedSubquery
	Related *wireSubquery `json:"related,omitempty"`
}

type wireExpr struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`  // column / static
	Value any    `json:"value,omitempty"` // literal
}

// Decode parses raw into an ast.AST, rejecting anything that doesn't
// conform to the wire shape spec §3 describes. It does not run
// ast.Validate; callers must still call that over a ColumnLookup
// before planning (spec §6 "validated against the AST schema" covers
// both steps together, but they are separate functions here so the
// structural-decode error and the semantic-validation error stay
// distinguishable, per CompileError/PlannerError's own split).
func Decode(raw json.RawMessage) (*ast.AST, error) {
	var w wireAST
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errors.Wrap(err, "adhoc: decoding ast")
	}
	return w.toAST()
}

func (w wireAST) toAST() (*ast.AST, error) {
	if w.Table == "" {
		return nil, errors.New("adhoc: ast.table is required")
	}
	out := &ast.AST{Table: ident.New(w.Table)}

	cond, err := w.Where.toCondition()
	if err != nil {
		return nil, err
	}
	out.Where = cond

	for _, t := range w.OrderBy {
		dir := ast.Asc
		switch t.Direction {
		case "", string(ast.Asc):
			dir = ast.Asc
		case string(ast.Desc):
			dir = ast.Desc
		default:
			return nil, errors.Errorf("adhoc: unknown orderBy direction %q", t.Direction)
		}
		out.OrderBy = append(out.OrderBy, ast.OrderTerm{Column: ident.New(t.Column), Direction: dir})
	}

	out.Limit = w.Limit
	if w.Start != nil {
		out.Start = &ast.StartPoint{Row: w.Start.Row, Exclusive: w.Start.Exclusive}
	}

	for _, r := range w.Related {
		sub, err := r.toSubquery()
		if err != nil {
			return nil, err
		}
		out.Related = append(out.Related, sub)
	}
	return out, nil
}

func (w wireSubquery) toSubquery() (*ast.Subquery, error) {
	if w.Alias == "" {
		return nil, errors.New("adhoc: related subquery requires an alias")
	}
	inner, err := w.Inner.toAST()
	if err != nil {
		return nil, errors.Wrapf(err, "related %q", w.Alias)
	}
	if len(w.Correlation.ParentField) == 0 || len(w.Correlation.ParentField) != len(w.Correlation.ChildField) {
		return nil, errors.Errorf("adhoc: related %q has an invalid correlation", w.Alias)
	}
	return &ast.Subquery{
		Alias:       ident.New(w.Alias),
		Inner:       inner,
		Correlation: ast.Correlation{ParentField: idents(w.Correlation.ParentField), ChildField: idents(w.Correlation.ChildField)},
		Hidden:      w.Hidden,
		Singular:    w.Singular,
	}, nil
}

func idents(names []string) []ident.Ident {
	out := make([]ident.Ident, len(names))
	for i, n := range names {
		out[i] = ident.New(n)
	}
	return out
}

func (w *wireCondition) toCondition() (ast.Condition, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Type {
	case "simple":
		if w.Left == nil || w.Right == nil {
			return nil, errors.New("adhoc: simple condition requires left and right")
		}
		left, err := w.Left.toExpr()
		if err != nil {
			return nil, err
		}
		right, err := w.Right.toExpr()
		if err != nil {
			return nil, err
		}
		return ast.Simple{Op: ast.Op(w.Op), Left: left, Right: right}, nil
	case "and":
		conds, err := toConditions(w.Conditions)
		if err != nil {
			return nil, err
		}
		return ast.And{Conditions: conds}, nil
	case "or":
		conds, err := toConditions(w.Conditions)
		if err != nil {
			return nil, err
		}
		return ast.Or{Conditions: conds}, nil
	case "correlatedSubquery":
		if w.Related == nil {
			return nil, errors.New("adhoc: correlatedSubquery requires related")
		}
		sub, err := w.Related.toSubquery()
		if err != nil {
			return nil, err
		}
		return ast.CorrelatedSubquery{Op: ast.Op(w.Op), Related: sub}, nil
	default:
		return nil, errors.Errorf("adhoc: unknown condition type %q", w.Type)
	}
}

func toConditions(wcs []wireCondition) ([]ast.Condition, error) {
	if wcs == nil {
		return nil, nil
	}
	out := make([]ast.Condition, len(wcs))
	for i := range wcs {
		c, err := wcs[i].toCondition()
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (w *wireExpr) toExpr() (ast.Expr, error) {
	if w == nil {
		return nil, errors.New("adhoc: missing expr")
	}
	switch w.Type {
	case "column":
		if w.Name == "" {
			return nil, errors.New("adhoc: column expr requires name")
		}
		return ast.Column{Name: ident.New(w.Name)}, nil
	case "literal":
		return ast.Literal{Value: w.Value}, nil
	case "static":
		if w.Name == "" {
			return nil, errors.New("adhoc: static expr requires name")
		}
		return ast.Static{Name: w.Name}, nil
	default:
		return nil, errors.Errorf("adhoc: unknown expr type %q", w.Type)
	}
}
