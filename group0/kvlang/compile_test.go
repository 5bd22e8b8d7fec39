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

package kvlang

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/margdoc/scylla/group0/types"
)

func TestCompileSelect(t *testing.T) {
	Convey("the supported select form compiles", t, func() {
		q, err := CompileString("SELECT value FROM system.group0_kv_store WHERE key = 'k1'")
		So(err, ShouldBeNil)
		So(q.Type, ShouldEqual, types.QuerySelect)
		So(q.Select.Key, ShouldResemble, []byte("k1"))

		Convey("with or without the keyspace qualifier", func() {
			q, err := CompileString("SELECT value FROM group0_kv_store WHERE key = 'k1'")
			So(err, ShouldBeNil)
			So(q.Select.Key, ShouldResemble, []byte("k1"))
		})
	})

	Convey("unsupported select forms are rejected", t, func() {
		for _, sql := range []string{
			"SELECT key FROM group0_kv_store WHERE key = 'k1'",
			"SELECT key, value FROM group0_kv_store WHERE key = 'k1'",
			"SELECT * FROM group0_kv_store WHERE key = 'k1'",
			"SELECT value FROM group0_kv_store WHERE key > 'k1'",
			"SELECT value FROM group0_kv_store WHERE value = 'v'",
			"SELECT value FROM group0_kv_store WHERE other = 'k1'",
			"SELECT value FROM group0_kv_store",
			"SELECT value FROM group0_kv_store WHERE key = 'a' AND key = 'b'",
		} {
			_, err := CompileString(sql)
			So(errors.Cause(err), ShouldEqual, types.ErrUnsupportedOperation)
		}
	})
}

func TestCompileUpdate(t *testing.T) {
	Convey("the supported update forms compile", t, func() {
		q, err := CompileString("UPDATE system.group0_kv_store SET value = 'v1' WHERE key = 'k1'")
		So(err, ShouldBeNil)
		So(q.Type, ShouldEqual, types.QueryUpdate)
		So(q.Update.Key, ShouldResemble, []byte("k1"))
		So(q.Update.NewValue, ShouldResemble, []byte("v1"))
		So(q.Update.Conditional, ShouldBeFalse)

		Convey("the value equality becomes the condition", func() {
			q, err := CompileString("UPDATE group0_kv_store SET value = 'v1' WHERE key = 'k1' AND value = 'v0'")
			So(err, ShouldBeNil)
			So(q.Update.Conditional, ShouldBeTrue)
			So(q.Update.ValueCondition, ShouldResemble, []byte("v0"))

			q, err = CompileString("UPDATE group0_kv_store SET value = 'v1' WHERE value = 'v0' AND key = 'k1'")
			So(err, ShouldBeNil)
			So(q.Update.Key, ShouldResemble, []byte("k1"))
			So(q.Update.ValueCondition, ShouldResemble, []byte("v0"))
		})
	})

	Convey("unsupported update forms are rejected", t, func() {
		for _, sql := range []string{
			"UPDATE group0_kv_store SET value = 'v1'",
			"UPDATE group0_kv_store SET other = 'v1' WHERE key = 'k1'",
			"UPDATE group0_kv_store SET value = 'v1', key = 'k2' WHERE key = 'k1'",
			"UPDATE group0_kv_store SET value = 'v1' WHERE key = 'k1' AND value = 'a' AND value = 'b'",
			"UPDATE group0_kv_store SET value = 'v1' WHERE key != 'k1'",
			"UPDATE group0_kv_store SET value = 'v1' WHERE key = 'k1' OR value = 'v0'",
			"UPDATE group0_kv_store SET value = 'v1' WHERE key = 'k1' LIMIT 1",
			"UPDATE group0_kv_store SET value = upper('v1') WHERE key = 'k1'",
		} {
			_, err := CompileString(sql)
			So(errors.Cause(err), ShouldEqual, types.ErrUnsupportedOperation)
		}
	})
}

func TestStatementRouting(t *testing.T) {
	Convey("only restricted kv store statements take the group 0 path", t, func() {
		cases := []struct {
			sql string
			kv  bool
		}{
			{"SELECT value FROM system.group0_kv_store WHERE key = 'k'", true},
			{"SELECT value FROM group0_kv_store WHERE key = 'k'", true},
			{"UPDATE group0_kv_store SET value = 'v' WHERE key = 'k'", true},
			// full table scans bypass this path
			{"SELECT value FROM group0_kv_store", false},
			// other tables are not ours
			{"SELECT value FROM other_table WHERE key = 'k'", false},
			{"UPDATE other_table SET value = 'v' WHERE key = 'k'", false},
			{"SELECT value FROM other.group0_kv_store WHERE key = 'k'", false},
			{"INSERT INTO group0_kv_store (key, value) VALUES ('k', 'v')", false},
		}

		for _, c := range cases {
			stmt, err := Parse(c.sql)
			So(err, ShouldBeNil)
			So(IsKVStoreStatement(stmt), ShouldEqual, c.kv)
		}
	})

	Convey("statements outside the subset fail compilation", t, func() {
		stmt, err := Parse("DELETE FROM group0_kv_store WHERE key = 'k'")
		So(err, ShouldBeNil)
		_, err = Compile(stmt)
		So(errors.Cause(err), ShouldEqual, types.ErrUnsupportedOperation)

		stmt, err = Parse("SELECT value FROM other_table WHERE key = 'k'")
		So(err, ShouldBeNil)
		_, err = Compile(stmt)
		So(errors.Cause(err), ShouldEqual, types.ErrUnsupportedOperation)
	})
}
