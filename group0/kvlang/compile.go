/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package kvlang compiles the narrow statement subset allowed against
// system.group0_kv_store into kv queries carried by group 0 commands.
//
// Supported forms, with keys and values as UTF-8 text literals:
//
//	SELECT value FROM system.group0_kv_store WHERE key = '...'
//	UPDATE system.group0_kv_store SET value = '...' WHERE key = '...'
//	UPDATE system.group0_kv_store SET value = '...' WHERE key = '...' AND value = '...'
//
// The value equality on an update is the conditional-update condition.
// Anything else targeting the table is rejected as an unsupported
// operation.
package kvlang

import (
	"github.com/CovenantSQL/sqlparser"
	"github.com/pkg/errors"

	"github.com/margdoc/scylla/group0"
	"github.com/margdoc/scylla/group0/types"
)

const (
	keyColumn   = "key"
	valueColumn = "value"
)

// Parse tokenizes a single statement.
func Parse(sql string) (stmt sqlparser.Statement, err error) {
	if stmt, err = sqlparser.Parse(sql); err != nil {
		err = errors.Wrap(err, "parse statement")
	}
	return
}

func targetTable(exprs sqlparser.TableExprs) (name string, qualifier string, ok bool) {
	if len(exprs) != 1 {
		return
	}
	aliased, isAliased := exprs[0].(*sqlparser.AliasedTableExpr)
	if !isAliased {
		return
	}
	table, isTable := aliased.Expr.(sqlparser.TableName)
	if !isTable {
		return
	}
	return table.Name.CompliantName(), table.Qualifier.CompliantName(), true
}

func targetsKVStore(exprs sqlparser.TableExprs) bool {
	name, qualifier, ok := targetTable(exprs)
	if !ok {
		return false
	}
	if qualifier != "" && qualifier != group0.KVStoreKeyspace {
		return false
	}
	return name == group0.KVStoreTableName
}

// IsKVStoreStatement reports whether the statement takes the group 0 kv
// path: it targets system.group0_kv_store and is not a full table scan.
func IsKVStoreStatement(stmt sqlparser.Statement) bool {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		return targetsKVStore(s.From) && s.Where != nil
	case *sqlparser.Update:
		return targetsKVStore(s.TableExprs)
	default:
		return false
	}
}

type equality struct {
	column string
	value  []byte
}

// collectEqualities flattens a WHERE tree into column = literal pairs,
// rejecting any other operator or expression shape.
func collectEqualities(expr sqlparser.Expr) (eqs []equality, err error) {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		left, err := collectEqualities(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := collectEqualities(e.Right)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	case *sqlparser.ComparisonExpr:
		if e.Operator != sqlparser.EqualStr {
			return nil, errors.Wrapf(types.ErrUnsupportedOperation,
				"restriction: %s", sqlparser.String(e))
		}
		col, ok := e.Left.(*sqlparser.ColName)
		if !ok {
			return nil, errors.Wrapf(types.ErrUnsupportedOperation,
				"restriction: %s", sqlparser.String(e))
		}
		val, ok := e.Right.(*sqlparser.SQLVal)
		if !ok || val.Type != sqlparser.StrVal {
			return nil, errors.Wrapf(types.ErrUnsupportedOperation,
				"restriction: %s", sqlparser.String(e))
		}
		return []equality{{
			column: col.Name.Lowered(),
			value:  append([]byte(nil), val.Val...),
		}}, nil
	default:
		return nil, errors.Wrapf(types.ErrUnsupportedOperation,
			"restriction: %s", sqlparser.String(expr))
	}
}

func splitRestrictions(where *sqlparser.Where) (key []byte, condition []byte, conditional bool, err error) {
	if where == nil {
		err = errors.Wrap(types.ErrUnsupportedOperation, "partition key restriction missing")
		return
	}

	eqs, err := collectEqualities(where.Expr)
	if err != nil {
		return
	}

	for _, eq := range eqs {
		switch eq.column {
		case keyColumn:
			if key != nil {
				err = errors.Wrap(types.ErrUnsupportedOperation, "multiple key restrictions")
				return
			}
			key = eq.value
		case valueColumn:
			if conditional {
				err = errors.Wrap(types.ErrUnsupportedOperation, "multiple conditions")
				return
			}
			condition = eq.value
			conditional = true
		default:
			err = errors.Wrapf(types.ErrUnsupportedOperation, "restriction on column %s", eq.column)
			return
		}
	}

	if key == nil {
		err = errors.Wrap(types.ErrUnsupportedOperation, "partition key restriction missing")
	}
	return
}

func compileSelect(s *sqlparser.Select) (q *types.KVQuery, err error) {
	if len(s.SelectExprs) != 1 {
		err = errors.Wrap(types.ErrUnsupportedOperation, "only 'value' selector is allowed")
		return
	}
	aliased, ok := s.SelectExprs[0].(*sqlparser.AliasedExpr)
	if !ok {
		err = errors.Wrap(types.ErrUnsupportedOperation, "only 'value' selector is allowed")
		return
	}
	col, ok := aliased.Expr.(*sqlparser.ColName)
	if !ok || col.Name.Lowered() != valueColumn {
		err = errors.Wrap(types.ErrUnsupportedOperation, "only 'value' selector is allowed")
		return
	}

	key, _, conditional, err := splitRestrictions(s.Where)
	if err != nil {
		return
	}
	if conditional {
		err = errors.Wrap(types.ErrUnsupportedOperation, "value restriction on select")
		return
	}

	return types.NewSelectQuery(key), nil
}

func compileUpdate(u *sqlparser.Update) (q *types.KVQuery, err error) {
	if u.OrderBy != nil || u.Limit != nil {
		err = errors.Wrap(types.ErrUnsupportedOperation, "ORDER BY or LIMIT in update")
		return
	}
	if len(u.Exprs) != 1 {
		err = errors.Wrap(types.ErrUnsupportedOperation, "exactly one 'value' assignment is allowed")
		return
	}

	assignment := u.Exprs[0]
	if assignment.Name.Name.Lowered() != valueColumn {
		err = errors.Wrapf(types.ErrUnsupportedOperation,
			"assignment to column %s", assignment.Name.Name.Lowered())
		return
	}
	val, ok := assignment.Expr.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.StrVal {
		err = errors.Wrapf(types.ErrUnsupportedOperation,
			"assignment: %s", sqlparser.String(assignment.Expr))
		return
	}
	newValue := append([]byte(nil), val.Val...)

	key, condition, conditional, err := splitRestrictions(u.Where)
	if err != nil {
		return
	}

	if conditional {
		return types.NewConditionalUpdateQuery(key, newValue, condition), nil
	}
	return types.NewUpdateQuery(key, newValue), nil
}

// Compile translates a statement targeting the kv store into a kv query.
// Statements outside the supported subset fail with
// types.ErrUnsupportedOperation.
func Compile(stmt sqlparser.Statement) (q *types.KVQuery, err error) {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		if !targetsKVStore(s.From) {
			err = errors.Wrap(types.ErrUnsupportedOperation, "statement targets another table")
			return
		}
		return compileSelect(s)
	case *sqlparser.Update:
		if !targetsKVStore(s.TableExprs) {
			err = errors.Wrap(types.ErrUnsupportedOperation, "statement targets another table")
			return
		}
		return compileUpdate(s)
	default:
		err = errors.Wrapf(types.ErrUnsupportedOperation, "statement: %s", sqlparser.String(stmt))
		return
	}
}

// CompileString parses and compiles a single statement.
func CompileString(sql string) (q *types.KVQuery, err error) {
	stmt, err := Parse(sql)
	if err != nil {
		return
	}
	return Compile(stmt)
}
