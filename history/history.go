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

// Package history maintains the system.group0_history table: the append-only
// record of state IDs of successfully applied group 0 commands. Partition
// keys are the raw state ID bytes, so the store's key order is the state ID
// order and the last partition is the current state.
package history

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/margdoc/scylla/stateid"
	"github.com/margdoc/scylla/storage"
)

const (
	// Keyspace of the history table.
	Keyspace = "system"
	// TableName of the history table.
	TableName = "group0_history"

	descriptionColumn = "description"
	gcAfterColumn     = "gc_after"
)

// Schema is the registered history table schema.
var Schema = storage.RegisterSchema(&storage.TableSchema{
	Keyspace: Keyspace,
	Name:     TableName,
})

// MakeStateIDMutation builds the mutation recording a state ID, without
// persisting it. The caller routes it through the command pipeline.
func MakeStateIDMutation(id stateid.ID, gcAfter time.Duration, description string) *storage.Mutation {
	m := storage.NewMutation(Schema, id.Bytes())
	m.SetCell(descriptionColumn, []byte(description), id.Micros())

	var d [8]byte
	binary.BigEndian.PutUint64(d[:], uint64(gcAfter))
	m.SetCell(gcAfterColumn, d[:], id.Micros())
	return m
}

// Last returns the state ID of the most recent history entry, the zero ID
// when the history is empty.
func Last(st storage.Storage) (id stateid.ID, err error) {
	m, err := st.LastMutationLocally(Schema)
	if err != nil {
		err = errors.Wrap(err, "read last history entry")
		return
	}
	if m == nil {
		return stateid.Zero, nil
	}
	return stateid.FromBytes(m.Key)
}

// Contains reports whether the given state ID is recorded in the history.
func Contains(st storage.Storage, id stateid.ID) (ok bool, err error) {
	m, err := st.QueryMutationsLocally(Schema, id.Bytes())
	if err != nil {
		err = errors.Wrap(err, "read history entry")
		return
	}
	return m != nil, nil
}

// Entry is one decoded history row.
type Entry struct {
	ID          stateid.ID
	Description string
	GCAfter     time.Duration
}

// Entries returns all history rows in state ID order.
func Entries(st storage.Storage) (entries []Entry, err error) {
	muts, err := st.ScanMutationsLocally(Schema)
	if err != nil {
		err = errors.Wrap(err, "scan history")
		return
	}

	entries = make([]Entry, 0, len(muts))
	for i := range muts {
		var e Entry
		if e, err = decodeEntry(&muts[i]); err != nil {
			return
		}
		entries = append(entries, e)
	}
	return
}

func decodeEntry(m *storage.Mutation) (e Entry, err error) {
	if e.ID, err = stateid.FromBytes(m.Key); err != nil {
		return
	}
	e.Description = string(m.Cells[descriptionColumn].Value)
	if gc, ok := m.Cells[gcAfterColumn]; ok && len(gc.Value) == 8 {
		e.GCAfter = time.Duration(binary.BigEndian.Uint64(gc.Value))
	}
	return
}

// ReclaimOlderThan removes history entries whose gc_after duration elapsed
// before now. The newest entry is pinned and never reclaimed. Returns the
// number of reclaimed entries.
func ReclaimOlderThan(st storage.Storage, now time.Time) (reclaimed int, err error) {
	entries, err := Entries(st)
	if err != nil {
		return
	}
	if len(entries) <= 1 {
		return
	}

	// skip the last entry, it defines the current state
	for _, e := range entries[:len(entries)-1] {
		written := time.UnixMicro(e.ID.Micros())
		if now.Sub(written) <= e.GCAfter {
			continue
		}
		if err = st.DeleteLocally(Schema, e.ID.Bytes()); err != nil {
			err = errors.Wrap(err, "reclaim history entry")
			return
		}
		reclaimed++
	}
	return
}
