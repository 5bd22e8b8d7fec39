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

// Package storage provides the local table store consumed by the group 0
// pipeline: canonical cell mutations with last-write-wins timestamps and a
// narrow query surface over persistent tables.
package storage

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/margdoc/scylla/utils"
)

// TableSchema identifies a single local table.
type TableSchema struct {
	Keyspace string
	Name     string
}

// Cell is a single column value with its write timestamp in microseconds.
type Cell struct {
	Value     []byte `codec:"v"`
	Timestamp int64  `codec:"t"`
}

// Mutation is the canonical serialized-friendly form of a partition write.
// Applying a mutation is last-write-wins per cell: a cell only replaces an
// existing one when its timestamp is strictly greater.
type Mutation struct {
	Keyspace string          `codec:"k"`
	Table    string          `codec:"t"`
	Key      []byte          `codec:"r"`
	Cells    map[string]Cell `codec:"c"`
}

// NewMutation creates an empty mutation against the given table partition.
func NewMutation(schema *TableSchema, key []byte) *Mutation {
	return &Mutation{
		Keyspace: schema.Keyspace,
		Table:    schema.Name,
		Key:      key,
		Cells:    make(map[string]Cell),
	}
}

// SetCell records a single column write.
func (m *Mutation) SetCell(column string, value []byte, timestamp int64) {
	m.Cells[column] = Cell{
		Value:     value,
		Timestamp: timestamp,
	}
}

// Schema returns the table schema the mutation targets.
func (m *Mutation) Schema() *TableSchema {
	return &TableSchema{
		Keyspace: m.Keyspace,
		Name:     m.Table,
	}
}

// Serialize encodes the mutation to its stable wire form.
func (m *Mutation) Serialize() (data []byte, err error) {
	buf, err := utils.EncodeMsgPack(m)
	if err != nil {
		err = errors.Wrap(err, "encode mutation")
		return
	}
	data = buf.Bytes()
	return
}

// DeserializeMutation decodes a mutation from its stable wire form.
func DeserializeMutation(data []byte) (m Mutation, err error) {
	if err = utils.DecodeMsgPack(data, &m); err != nil {
		err = errors.Wrap(err, "decode mutation")
	}
	return
}

// Storage is the local table store interface the group 0 machinery runs on.
// Reads reflect all mutations previously applied through MutateLocally on
// this node.
type Storage interface {
	// QueryMutationsLocally reads the current content of one partition,
	// returning nil when the partition does not exist.
	QueryMutationsLocally(schema *TableSchema, key []byte) (*Mutation, error)
	// ScanMutationsLocally reads all partitions of a table in the store's
	// key order. For LevelDBStorage that is shorter keys first and
	// equal-length keys bytewise.
	ScanMutationsLocally(schema *TableSchema) ([]Mutation, error)
	// LastMutationLocally reads the last partition in that key order, nil
	// when the table is empty.
	LastMutationLocally(schema *TableSchema) (*Mutation, error)
	// MutateLocally applies mutations with last-write-wins cell semantics.
	MutateLocally(muts ...*Mutation) error
	// DeleteLocally drops one partition.
	DeleteLocally(schema *TableSchema, key []byte) error
	// Close releases the underlying store.
	Close() error
}

var schemaIndex = struct {
	mu     sync.RWMutex
	tables map[string]*TableSchema
}{
	tables: make(map[string]*TableSchema),
}

func schemaKey(keyspace, name string) string {
	return keyspace + "." + name
}

// RegisterSchema publishes a table schema to the process wide dictionary.
// Registering the same table twice returns the existing schema.
func RegisterSchema(schema *TableSchema) *TableSchema {
	schemaIndex.mu.Lock()
	defer schemaIndex.mu.Unlock()

	if s, ok := schemaIndex.tables[schemaKey(schema.Keyspace, schema.Name)]; ok {
		return s
	}
	schemaIndex.tables[schemaKey(schema.Keyspace, schema.Name)] = schema
	return schema
}

// FindSchema looks a registered table up by keyspace and name.
func FindSchema(keyspace, name string) (schema *TableSchema, err error) {
	schemaIndex.mu.RLock()
	defer schemaIndex.mu.RUnlock()

	schema, ok := schemaIndex.tables[schemaKey(keyspace, name)]
	if !ok {
		err = errors.Wrapf(ErrSchemaNotFound, "%s.%s", keyspace, name)
	}
	return
}

// SchemasInKeyspace returns all registered tables of one keyspace.
func SchemasInKeyspace(keyspace string) (schemas []*TableSchema) {
	schemaIndex.mu.RLock()
	defer schemaIndex.mu.RUnlock()

	for _, s := range schemaIndex.tables {
		if s.Keyspace == keyspace {
			schemas = append(schemas, s)
		}
	}
	return
}
