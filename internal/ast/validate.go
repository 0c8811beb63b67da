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

package ast

import (
	"github.com/cockroachdb/zero-ivm/internal/util/ident"
	"github.com/pkg/errors"
)

// ColumnLookup answers "does this column exist on this table", used by
// Validate to check orderBy references (spec §3 "orderBy columns exist
// on table"). internal/schema's name mapper implements this.
type ColumnLookup interface {
	HasColumn(table ident.Ident, column ident.Ident) bool
}

// Validate checks the structural invariants spec §3 places on an AST.
// columns may be nil, in which case orderBy column existence is not
// checked (used by tests and by the planner, which operates on
// already-validated trees).
func Validate(a *AST, columns ColumnLookup) error {
	if a == nil {
		return errors.New("nil ast")
	}
	if a.Table.Empty() {
		return errors.New("ast: table is required")
	}
	if columns != nil {
		for _, ob := range a.OrderBy {
			if !columns.HasColumn(a.Table, ob.Column) {
				return errors.Errorf("ast: orderBy column %q does not exist on %q", ob.Column, a.Table)
			}
		}
	}

	seenAlias := make(map[string]bool, len(a.Related))
	for _, r := range a.Related {
		if r.Alias.Empty() {
			return errors.New("ast: related subquery must have an alias")
		}
		key := r.Alias.Raw()
		if seenAlias[key] {
			return errors.Errorf("ast: duplicate related alias %q", r.Alias)
		}
		seenAlias[key] = true

		if err := validateCorrelation(r.Correlation); err != nil {
			return errors.Wrapf(err, "related %q", r.Alias)
		}
		if err := Validate(r.Inner, columns); err != nil {
			return errors.Wrapf(err, "related %q", r.Alias)
		}
	}

	return validateCondition(a.Where, columns, a.Table)
}

func validateCorrelation(c Correlation) error {
	if len(c.ParentField) == 0 {
		return errors.New("correlation must have at least one field")
	}
	if len(c.ParentField) != len(c.ChildField) {
		return errors.Errorf(
			"correlation field length mismatch: %d parent vs %d child",
			len(c.ParentField), len(c.ChildField))
	}
	return nil
}

func validateCondition(c Condition, columns ColumnLookup, table ident.Ident) error {
	switch v := c.(type) {
	case nil:
		return nil
	case Simple:
		switch v.Op {
		case OpIs, OpIsNot:
			if !IsNullOrBoolLiteral(v.Right) {
				return errors.Errorf("%s only carries NULL/TRUE/FALSE on the right", v.Op)
			}
		case OpIn, OpNotIn:
			lit, ok := v.Right.(Literal)
			if !ok {
				return errors.Errorf("%s requires an array-valued literal", v.Op)
			}
			if !isArrayValue(lit.Value) {
				return errors.Errorf("%s requires an array-valued literal", v.Op)
			}
		}
		return nil
	case And:
		for _, inner := range v.Conditions {
			if err := validateCondition(inner, columns, table); err != nil {
				return err
			}
		}
		return nil
	case Or:
		for _, inner := range v.Conditions {
			if err := validateCondition(inner, columns, table); err != nil {
				return err
			}
		}
		return nil
	case CorrelatedSubquery:
		if v.Op != OpExists && v.Op != OpNotExists {
			return errors.Errorf("correlatedSubquery op must be EXISTS or NOT EXISTS, got %s", v.Op)
		}
		if err := validateCorrelation(v.Related.Correlation); err != nil {
			return err
		}
		return Validate(v.Related.Inner, columns)
	default:
		return errors.Errorf("unknown condition type %T", c)
	}
}

func isArrayValue(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []int64, []float64:
		return true
	default:
		return false
	}
}
