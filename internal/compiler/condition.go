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

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/zero-ivm/internal/ast"
)

func (c *compilation) compileCondition(cond ast.Condition, alias string) (string, error) {
	switch v := cond.(type) {
	case nil:
		return "", nil
	case ast.Simple:
		return c.compileSimple(v, alias)
	case ast.And:
		return c.compileConjunction(v.Conditions, "AND", "TRUE", alias)
	case ast.Or:
		return c.compileConjunction(v.Conditions, "OR", "FALSE", alias)
	case ast.CorrelatedSubquery:
		return c.compileCorrelatedSubquery(v, alias)
	default:
		return "", fmt.Errorf("compiler: unknown condition type %T", cond)
	}
}

func (c *compilation) compileConjunction(conds []ast.Condition, joiner, identity, alias string) (string, error) {
	if len(conds) == 0 {
		return identity, nil
	}
	parts := make([]string, len(conds))
	for i, inner := range conds {
		s, err := c.compileCondition(inner, alias)
		if err != nil {
			return "", err
		}
		parts[i] = fmt.Sprintf("(%s)", s)
	}
	return strings.Join(parts, " "+joiner+" "), nil
}

// compileSimple renders one Simple condition, applying the rewrites
// spec §4.1 requires: IS/IS NOT become IS [NOT] DISTINCT FROM (so NULL
// comparisons behave predictably under three-valued logic), and
// IN/NOT IN become = ANY(...)/!= ANY(...) so an array literal can be
// bound directly as a single parameter.
func (c *compilation) compileSimple(s ast.Simple, alias string) (string, error) {
	left, err := c.compileExpr(s.Left, alias)
	if err != nil {
		return "", err
	}
	right, err := c.compileExpr(s.Right, alias)
	if err != nil {
		return "", err
	}

	switch s.Op {
	case ast.OpIs:
		return fmt.Sprintf("%s IS NOT DISTINCT FROM %s", left, right), nil
	case ast.OpIsNot:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", left, right), nil
	case ast.OpIn:
		return fmt.Sprintf("%s = ANY(%s)", left, right), nil
	case ast.OpNotIn:
		return fmt.Sprintf("%s != ANY(%s)", left, right), nil
	default:
		return fmt.Sprintf("%s %s %s", left, string(s.Op), right), nil
	}
}

func (c *compilation) compileExpr(e ast.Expr, alias string) (string, error) {
	switch v := e.(type) {
	case ast.Column:
		return fmt.Sprintf(`"%s"."%s"`, alias, v.Name.Raw()), nil
	case ast.Literal:
		return c.bind(v.Value), nil
	case ast.Static:
		val, ok := c.bindings[v.Name]
		if !ok {
			return "", unboundParameter(v.Name)
		}
		return c.bind(val), nil
	default:
		return "", fmt.Errorf("compiler: unknown expr type %T", e)
	}
}

// compileCorrelatedSubquery renders an EXISTS/NOT EXISTS test. The
// correlation predicate is always included in the inner WHERE: both
// variants are rendered as a standard correlated (anti-)semi-join,
// which is the form that stays correct across nullable foreign keys.
func (c *compilation) compileCorrelatedSubquery(v ast.CorrelatedSubquery, parentAlias string) (string, error) {
	childAlias := v.Related.Alias.Raw()
	inner, err := c.compileSelect(v.Related.Inner, childAlias)
	if err != nil {
		return "", err
	}
	correlation, err := c.correlationWhere(v.Related.Correlation, parentAlias, childAlias)
	if err != nil {
		return "", err
	}
	inner = injectWhere(inner, correlation)

	keyword := "EXISTS"
	if v.Op == ast.OpNotExists {
		keyword = "NOT EXISTS"
	}
	return fmt.Sprintf("%s (%s)", keyword, inner), nil
}
