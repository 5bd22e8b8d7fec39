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

// Package types defines the group 0 command: the payload unit carried
// through the replicated log, wrapping either a schema mutation batch or a
// kv query, plus the state ID metadata driving the linearization protocol.
// Payloads use an explicit variant tag so decoders can reject tags from
// newer versions instead of misreading them.
package types

import (
	"github.com/pkg/errors"

	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/stateid"
	"github.com/margdoc/scylla/storage"
	"github.com/margdoc/scylla/utils"
)

// ChangeType tags the command change variants.
type ChangeType uint16

const (
	// ChangeSchema carries a schema mutation batch.
	ChangeSchema ChangeType = iota
	// ChangeKVQuery carries a kv store query.
	ChangeKVQuery
)

func (t ChangeType) String() string {
	switch t {
	case ChangeSchema:
		return "ChangeSchema"
	case ChangeKVQuery:
		return "ChangeKVQuery"
	default:
		return "Unknown"
	}
}

// SchemaChange is a batch of canonical mutations against the schema tables.
type SchemaChange struct {
	Mutations []storage.Mutation `codec:"m"`
}

// Change is the tagged change union of a command.
type Change struct {
	Type    ChangeType    `codec:"t"`
	Schema  *SchemaChange `codec:"s"`
	KVQuery *KVQuery      `codec:"q"`
}

func (c *Change) validate() error {
	switch c.Type {
	case ChangeSchema:
		if c.Schema == nil {
			return errors.Wrap(ErrUnknownPayloadTag, "schema change without body")
		}
	case ChangeKVQuery:
		if c.KVQuery == nil {
			return errors.Wrap(ErrUnknownPayloadTag, "kv query change without body")
		}
		return c.KVQuery.validate()
	default:
		return errors.Wrapf(ErrUnknownPayloadTag, "change tag %d", c.Type)
	}
	return nil
}

// Command is the group 0 command record.
//
// PrevStateID engages the optimistic concurrency check: when present, apply
// is conditional on it matching the last history entry. NewStateID is the
// state recorded on success; its microsecond component is the write
// timestamp of every mutation the command carries.
type Command struct {
	Change        Change           `codec:"c"`
	HistoryAppend storage.Mutation `codec:"h"`

	PrevStateID *stateid.ID `codec:"p"`
	NewStateID  stateid.ID  `codec:"n"`

	CreatorAddr proto.NodeAddr `codec:"a"`
	CreatorID   proto.ServerID `codec:"i"`
}

// Serialize encodes the command to the log's opaque payload form.
func (c *Command) Serialize() (data []byte, err error) {
	if err = c.Change.validate(); err != nil {
		return
	}
	buf, err := utils.EncodeMsgPack(c)
	if err != nil {
		err = errors.Wrap(err, "encode group 0 command")
		return
	}
	data = buf.Bytes()
	return
}

// DeserializeCommand decodes a command, rejecting unknown payload tags.
func DeserializeCommand(data []byte) (c Command, err error) {
	if err = utils.DecodeMsgPack(data, &c); err != nil {
		err = errors.Wrap(err, "decode group 0 command")
		return
	}
	err = c.Change.validate()
	return
}
