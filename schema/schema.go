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

// Package schema holds the schema table boundary of the group 0 pipeline.
// The full schema merge engine lives outside this module; the Merger
// interface is what the state machine dispatches schema mutation batches to,
// and LocalMerger is the default implementation applying canonical mutations
// to the local schema tables.
package schema

import (
	"github.com/pkg/errors"

	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/storage"
	"github.com/margdoc/scylla/utils/log"
)

// Keyspace is the keyspace holding the schema tables.
const Keyspace = "system_schema"

// TablesSchema is the registered schema definition table.
var TablesSchema = storage.RegisterSchema(&storage.TableSchema{
	Keyspace: Keyspace,
	Name:     "tables",
})

// Merger consumes schema mutation batches produced by group 0 commands.
// origin identifies the node the change was created on.
type Merger interface {
	MergeSchemaFrom(origin proto.NodeAddr, muts []storage.Mutation) error
}

// LocalMerger applies schema mutations directly to local storage.
type LocalMerger struct {
	strg storage.Storage
}

// NewLocalMerger creates a merger over the given store.
func NewLocalMerger(strg storage.Storage) *LocalMerger {
	return &LocalMerger{strg: strg}
}

// MergeSchemaFrom implements Merger. Mutations carry their own write
// timestamps, so replaying an already merged batch is a no-op.
func (m *LocalMerger) MergeSchemaFrom(origin proto.NodeAddr, muts []storage.Mutation) (err error) {
	refs := make([]*storage.Mutation, len(muts))
	for i := range muts {
		refs[i] = &muts[i]
	}

	if err = m.strg.MutateLocally(refs...); err != nil {
		err = errors.Wrapf(err, "merge schema from %s", origin)
		return
	}

	log.WithFields(log.Fields{
		"origin":    origin,
		"mutations": len(muts),
	}).Debug("merged schema mutations")
	return
}

// Mutations snapshots the current content of the schema tables, used to
// answer migration requests.
func Mutations(strg storage.Storage) (muts []storage.Mutation, err error) {
	for _, s := range storage.SchemasInKeyspace(Keyspace) {
		var part []storage.Mutation
		if part, err = strg.ScanMutationsLocally(s); err != nil {
			err = errors.Wrap(err, "snapshot schema tables")
			return
		}
		muts = append(muts, part...)
	}
	return
}
