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

package history

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/margdoc/scylla/stateid"
	"github.com/margdoc/scylla/storage"
)

func TestHistory(t *testing.T) {
	Convey("given an empty history", t, func() {
		st := storage.NewMemStorage()
		defer st.Close()

		Convey("last is the zero ID", func() {
			last, err := Last(st)
			So(err, ShouldBeNil)
			So(last.IsZero(), ShouldBeTrue)
		})

		Convey("appended IDs become last and contained", func() {
			s1 := stateid.Generate(stateid.Zero)
			So(st.MutateLocally(MakeStateIDMutation(s1, time.Hour, "create table")), ShouldBeNil)

			last, err := Last(st)
			So(err, ShouldBeNil)
			So(last, ShouldResemble, s1)

			ok, err := Contains(st, s1)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, err = Contains(st, stateid.Generate(s1))
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			Convey("and a later ID supersedes it", func() {
				s2 := stateid.Generate(s1)
				So(st.MutateLocally(MakeStateIDMutation(s2, time.Hour, "")), ShouldBeNil)

				last, err := Last(st)
				So(err, ShouldBeNil)
				So(last, ShouldResemble, s2)

				entries, err := Entries(st)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 2)
				So(entries[0].ID, ShouldResemble, s1)
				So(entries[0].Description, ShouldEqual, "create table")
				So(entries[1].ID, ShouldResemble, s2)
			})
		})
	})
}

func TestHistoryGC(t *testing.T) {
	Convey("given a history with expired entries", t, func() {
		st := storage.NewMemStorage()
		defer st.Close()

		s1 := stateid.Generate(stateid.Zero)
		s2 := stateid.Generate(s1)
		s3 := stateid.Generate(s2)
		So(st.MutateLocally(
			MakeStateIDMutation(s1, time.Minute, "first"),
			MakeStateIDMutation(s2, 10*time.Hour, "second"),
			MakeStateIDMutation(s3, time.Minute, "third"),
		), ShouldBeNil)

		Convey("expired entries are reclaimed", func() {
			reclaimed, err := ReclaimOlderThan(st, time.Now().Add(time.Hour))
			So(err, ShouldBeNil)
			So(reclaimed, ShouldEqual, 1)

			ok, _ := Contains(st, s1)
			So(ok, ShouldBeFalse)
			ok, _ = Contains(st, s2)
			So(ok, ShouldBeTrue)
		})

		Convey("the newest entry is pinned regardless of gc_after", func() {
			reclaimed, err := ReclaimOlderThan(st, time.Now().Add(24*time.Hour))
			So(err, ShouldBeNil)
			So(reclaimed, ShouldEqual, 2)

			last, err := Last(st)
			So(err, ShouldBeNil)
			So(last, ShouldResemble, s3)
		})
	})
}
