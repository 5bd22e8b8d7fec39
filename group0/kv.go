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

package group0

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/margdoc/scylla/group0/types"
	"github.com/margdoc/scylla/storage"
)

// kvCell extracts the single value cell of a kv store partition. Only one
// row per partition key is permitted in this version.
func kvCell(m *storage.Mutation) (cell storage.Cell, err error) {
	cell, ok := m.Cells[kvValueColumn]
	if !ok || len(m.Cells) != 1 {
		err = errors.Wrapf(types.ErrMultipleRows, "key %q", m.Key)
	}
	return
}

// executeKVQuery runs a kv query against the local kv store table. The
// caller holds the apply lock, so local reads reflect every command applied
// before this one. Write timestamps derive from the command's new state ID,
// bumped above the existing cell so replays settle on the same value.
func executeKVQuery(strg storage.Storage, query *types.KVQuery, cmd *types.Command) (result *types.QueryResult, err error) {
	switch query.Type {
	case types.QuerySelect:
		return executeSelect(strg, query.Select)
	case types.QueryUpdate:
		return executeUpdate(strg, query.Update, cmd)
	default:
		err = errors.Wrapf(types.ErrUnknownPayloadTag, "kv query tag %d", query.Type)
		return
	}
}

func executeSelect(strg storage.Storage, q *types.SelectQuery) (result *types.QueryResult, err error) {
	m, err := strg.QueryMutationsLocally(KVStoreSchema, q.Key)
	if err != nil {
		return
	}
	if m == nil {
		return &types.QueryResult{
			Type:   types.ResultSelect,
			Select: &types.SelectResult{},
		}, nil
	}

	cell, err := kvCell(m)
	if err != nil {
		return
	}
	return &types.QueryResult{
		Type: types.ResultSelect,
		Select: &types.SelectResult{
			Value:  cell.Value,
			Exists: true,
		},
	}, nil
}

func executeUpdate(strg storage.Storage, q *types.UpdateQuery, cmd *types.Command) (result *types.QueryResult, err error) {
	existing, err := strg.QueryMutationsLocally(KVStoreSchema, q.Key)
	if err != nil {
		return
	}

	if existing == nil {
		if q.Conditional {
			// conditioned update on a missing partition never applies
			return &types.QueryResult{
				Type:              types.ResultConditionalUpdate,
				ConditionalUpdate: &types.ConditionalUpdateResult{},
			}, nil
		}

		m := storage.NewMutation(KVStoreSchema, q.Key)
		m.SetCell(kvValueColumn, q.NewValue, cmd.NewStateID.Micros())
		if err = strg.MutateLocally(m); err != nil {
			return
		}
		return &types.QueryResult{Type: types.ResultNone}, nil
	}

	cell, err := kvCell(existing)
	if err != nil {
		return
	}

	applied := !q.Conditional || bytes.Equal(q.ValueCondition, cell.Value)
	if applied {
		ts := cmd.NewStateID.Micros()
		if old := cell.Timestamp + 1; old > ts {
			ts = old
		}

		m := storage.NewMutation(KVStoreSchema, q.Key)
		m.SetCell(kvValueColumn, q.NewValue, ts)
		if err = strg.MutateLocally(m); err != nil {
			return
		}
	}

	if !q.Conditional {
		return &types.QueryResult{Type: types.ResultNone}, nil
	}
	return &types.QueryResult{
		Type: types.ResultConditionalUpdate,
		ConditionalUpdate: &types.ConditionalUpdateResult{
			Applied:        applied,
			PreviousValue:  cell.Value,
			PreviousExists: true,
		},
	}, nil
}
