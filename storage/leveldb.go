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

package storage

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/margdoc/scylla/utils"
)

// LevelDBStorage implements Storage over a goleveldb database. Rows are laid
// out as one leveldb entry per cell, keyed by length-prefixed
// keyspace/table/key/column segments so that prefix iteration walks a table
// or a partition, and fixed-width partition keys keep their bytewise order.
type LevelDBStorage struct {
	mu     sync.Mutex
	db     *leveldb.DB
	closed bool
}

// NewLevelDBStorage opens a database under the given path.
func NewLevelDBStorage(path string) (s *LevelDBStorage, err error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		err = errors.Wrapf(err, "open leveldb at %s", path)
		return
	}
	s = &LevelDBStorage{db: db}
	return
}

// NewMemStorage opens a memory backed database, used by tests and the
// in-process harness.
func NewMemStorage() (s *LevelDBStorage) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		// memory backend open never fails with default options
		panic(err)
	}
	return &LevelDBStorage{db: db}
}

func segment(data []byte) []byte {
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], uint64(len(data)))
	return utils.ConcatAll(l[:n], data)
}

func tablePrefix(schema *TableSchema) []byte {
	return utils.ConcatAll(segment([]byte(schema.Keyspace)), segment([]byte(schema.Name)))
}

func partitionPrefix(schema *TableSchema, key []byte) []byte {
	return utils.ConcatAll(tablePrefix(schema), segment(key))
}

func cellKey(schema *TableSchema, key []byte, column string) []byte {
	return utils.ConcatAll(partitionPrefix(schema, key), segment([]byte(column)))
}

func splitSegment(data []byte) (seg []byte, rest []byte, err error) {
	l, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < l {
		err = errors.New("corrupted cell key")
		return
	}
	seg = data[n : n+int(l)]
	rest = data[n+int(l):]
	return
}

// parseCellKey recovers the partition key and column from a full cell key,
// with the table prefix already stripped.
func parseCellKey(suffix []byte) (key []byte, column string, err error) {
	key, rest, err := splitSegment(suffix)
	if err != nil {
		return
	}
	col, _, err := splitSegment(rest)
	if err != nil {
		return
	}
	column = string(col)
	return
}

func (s *LevelDBStorage) collectPartition(schema *TableSchema, prefix []byte) (m *Mutation, err error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	table := tablePrefix(schema)

	for iter.Next() {
		key, column, err := parseCellKey(iter.Key()[len(table):])
		if err != nil {
			return nil, err
		}

		var cell Cell
		if err = utils.DecodeMsgPack(iter.Value(), &cell); err != nil {
			return nil, errors.Wrap(err, "decode cell")
		}

		if m == nil {
			m = NewMutation(schema, append([]byte(nil), key...))
		}
		m.Cells[column] = cell
	}

	err = iter.Error()
	return
}

// QueryMutationsLocally implements Storage.
func (s *LevelDBStorage) QueryMutationsLocally(schema *TableSchema, key []byte) (m *Mutation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStorageClosed
	}

	return s.collectPartition(schema, partitionPrefix(schema, key))
}

// ScanMutationsLocally implements Storage.
func (s *LevelDBStorage) ScanMutationsLocally(schema *TableSchema) (muts []Mutation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStorageClosed
	}

	iter := s.db.NewIterator(util.BytesPrefix(tablePrefix(schema)), nil)
	defer iter.Release()

	table := tablePrefix(schema)
	var current *Mutation

	for iter.Next() {
		key, column, err := parseCellKey(iter.Key()[len(table):])
		if err != nil {
			return nil, err
		}

		var cell Cell
		if err = utils.DecodeMsgPack(iter.Value(), &cell); err != nil {
			return nil, errors.Wrap(err, "decode cell")
		}

		if current == nil || !bytes.Equal(current.Key, key) {
			if current != nil {
				muts = append(muts, *current)
			}
			current = NewMutation(schema, append([]byte(nil), key...))
		}
		current.Cells[column] = cell
	}
	if current != nil {
		muts = append(muts, *current)
	}

	err = iter.Error()
	return
}

// LastMutationLocally implements Storage.
func (s *LevelDBStorage) LastMutationLocally(schema *TableSchema) (m *Mutation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStorageClosed
	}

	iter := s.db.NewIterator(util.BytesPrefix(tablePrefix(schema)), nil)
	defer iter.Release()

	if !iter.Last() {
		return nil, iter.Error()
	}

	key, _, err := parseCellKey(iter.Key()[len(tablePrefix(schema)):])
	if err != nil {
		return
	}

	return s.collectPartition(schema, partitionPrefix(schema, key))
}

// MutateLocally implements Storage. Cells only replace existing ones when
// their timestamp is strictly greater.
func (s *LevelDBStorage) MutateLocally(muts ...*Mutation) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}

	batch := new(leveldb.Batch)

	for _, m := range muts {
		schema := m.Schema()
		for column, cell := range m.Cells {
			ck := cellKey(schema, m.Key, column)

			existing, err := s.db.Get(ck, nil)
			if err != nil && err != leveldb.ErrNotFound {
				return errors.Wrap(err, "read cell")
			}
			if err == nil {
				var old Cell
				if err = utils.DecodeMsgPack(existing, &old); err != nil {
					return errors.Wrap(err, "decode cell")
				}
				if old.Timestamp >= cell.Timestamp {
					continue
				}
			}

			buf, err := utils.EncodeMsgPack(&cell)
			if err != nil {
				return errors.Wrap(err, "encode cell")
			}
			batch.Put(ck, buf.Bytes())
		}
	}

	if err = s.db.Write(batch, nil); err != nil {
		err = errors.Wrap(err, "write batch")
	}
	return
}

// DeleteLocally implements Storage.
func (s *LevelDBStorage) DeleteLocally(schema *TableSchema, key []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}

	iter := s.db.NewIterator(util.BytesPrefix(partitionPrefix(schema, key)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err = iter.Error(); err != nil {
		return
	}

	if err = s.db.Write(batch, nil); err != nil {
		err = errors.Wrap(err, "delete partition")
	}
	return
}

// Close implements Storage.
func (s *LevelDBStorage) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	return s.db.Close()
}
