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

package types

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/margdoc/scylla/history"
	"github.com/margdoc/scylla/stateid"
	"github.com/margdoc/scylla/storage"
)

func testCommand(change Change) *Command {
	observed := stateid.Generate(stateid.Zero)
	next := stateid.Generate(observed)
	return &Command{
		Change:        change,
		HistoryAppend: *history.MakeStateIDMutation(next, time.Hour, "test"),
		PrevStateID:   &observed,
		NewStateID:    next,
		CreatorAddr:   "127.0.0.1:4661",
		CreatorID:     "srv-1",
	}
}

func TestCommandSerialization(t *testing.T) {
	Convey("schema change command round trips", t, func() {
		tables := storage.NewMutation(
			&storage.TableSchema{Keyspace: "system_schema", Name: "tables"}, []byte("ks1/t1"))
		tables.SetCell("definition", []byte("create table t1"), 1)

		cmd := testCommand(Change{
			Type:   ChangeSchema,
			Schema: &SchemaChange{Mutations: []storage.Mutation{*tables}},
		})

		data, err := cmd.Serialize()
		So(err, ShouldBeNil)

		back, err := DeserializeCommand(data)
		So(err, ShouldBeNil)
		So(&back, ShouldResemble, cmd)
	})

	Convey("kv query command round trips", t, func() {
		for _, q := range []*KVQuery{
			NewSelectQuery([]byte("k")),
			NewUpdateQuery([]byte("k"), []byte("v")),
			NewConditionalUpdateQuery([]byte("k"), []byte("v1"), []byte("v0")),
		} {
			cmd := testCommand(Change{Type: ChangeKVQuery, KVQuery: q})
			cmd.PrevStateID = nil

			data, err := cmd.Serialize()
			So(err, ShouldBeNil)

			back, err := DeserializeCommand(data)
			So(err, ShouldBeNil)
			So(&back, ShouldResemble, cmd)
			So(back.PrevStateID, ShouldBeNil)
		}
	})

	Convey("unknown tags are rejected", t, func() {
		cmd := testCommand(Change{Type: ChangeSchema, Schema: &SchemaChange{}})
		cmd.Change.Type = ChangeType(42)
		_, err := cmd.Serialize()
		So(errors.Cause(err), ShouldEqual, ErrUnknownPayloadTag)

		cmd = testCommand(Change{Type: ChangeSchema, Schema: &SchemaChange{}})
		data, err := cmd.Serialize()
		So(err, ShouldBeNil)

		// a future decoder tag round tripped through an old encoder
		tampered := testCommand(Change{Type: ChangeKVQuery, KVQuery: NewSelectQuery([]byte("k"))})
		tampered.Change.KVQuery.Type = QueryType(7)
		_, err = tampered.Serialize()
		So(errors.Cause(err), ShouldEqual, ErrUnknownPayloadTag)

		back, err := DeserializeCommand(data)
		So(err, ShouldBeNil)
		back.Change.Type = ChangeType(9)
		So(errors.Cause(back.Change.validate()), ShouldEqual, ErrUnknownPayloadTag)
	})

	Convey("variant bodies must match their tag", t, func() {
		cmd := testCommand(Change{Type: ChangeSchema})
		_, err := cmd.Serialize()
		So(errors.Cause(err), ShouldEqual, ErrUnknownPayloadTag)

		cmd = testCommand(Change{Type: ChangeKVQuery, KVQuery: &KVQuery{Type: QuerySelect}})
		_, err = cmd.Serialize()
		So(errors.Cause(err), ShouldEqual, ErrUnknownPayloadTag)
	})
}
