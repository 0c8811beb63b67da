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

package queryengine

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/zero-ivm/internal/ast"
	"github.com/cockroachdb/zero-ivm/internal/ivm"
)

// evalCondition interprets an ast.Condition against an in-memory row,
// the IVM-side counterpart to the SQL compiler's lowering: the
// compiler turns a Condition into SQL text, this turns it into a Go
// predicate. CorrelatedSubquery conditions are not handled here; they
// are compiled into a Join by builder.go before evalCondition ever
// sees the tree, exactly as the existence of a matching nested row
// under a synthetic alias.
func evalCondition(cond ast.Condition, row ivm.Row) bool {
	switch v := cond.(type) {
	case nil:
		return true
	case ast.Simple:
		return evalSimple(v, row)
	case ast.And:
		for _, c := range v.Conditions {
			if !evalCondition(c, row) {
				return false
			}
		}
		return true
	case ast.Or:
		for _, c := range v.Conditions {
			if evalCondition(c, row) {
				return true
			}
		}
		return len(v.Conditions) == 0
	default:
		return false
	}
}

func evalSimple(s ast.Simple, row ivm.Row) bool {
	left := evalExpr(s.Left, row)
	right := evalExpr(s.Right, row)

	switch s.Op {
	case ast.OpEq, ast.OpIs:
		return compareEqual(left, right)
	case ast.OpNeq, ast.OpIsNot:
		return !compareEqual(left, right)
	case ast.OpLt:
		return compareLess(left, right)
	case ast.OpLte:
		return compareLess(left, right) || compareEqual(left, right)
	case ast.OpGt:
		return compareLess(right, left)
	case ast.OpGte:
		return compareLess(right, left) || compareEqual(left, right)
	case ast.OpLike:
		return likeMatch(toString(left), toString(right), false)
	case ast.OpILike:
		return likeMatch(toString(left), toString(right), true)
	case ast.OpNotLike:
		return !likeMatch(toString(left), toString(right), false)
	case ast.OpNotILike:
		return !likeMatch(toString(left), toString(right), true)
	case ast.OpIn:
		return inSlice(left, right)
	case ast.OpNotIn:
		return !inSlice(left, right)
	default:
		return false
	}
}

func evalExpr(e ast.Expr, row ivm.Row) any {
	switch v := e.(type) {
	case ast.Column:
		return row[v.Name.Raw()]
	case ast.Literal:
		return v.Value
	default:
		return nil
	}
}

func compareEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareLess(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return toString(a) < toString(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func likeMatch(value, pattern string, caseInsensitive bool) bool {
	if caseInsensitive {
		value = strings.ToLower(value)
		pattern = strings.ToLower(pattern)
	}
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return value == pattern
	}
	cursor := value
	for i, part := range parts {
		if part == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(cursor, part) {
				return false
			}
			cursor = cursor[len(part):]
		case i == len(parts)-1:
			if !strings.HasSuffix(cursor, part) {
				return false
			}
		default:
			idx := strings.Index(cursor, part)
			if idx < 0 {
				return false
			}
			cursor = cursor[idx+len(part):]
		}
	}
	return true
}

func inSlice(value, set any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(value, item) {
			return true
		}
	}
	return false
}
