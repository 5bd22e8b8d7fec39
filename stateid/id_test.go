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

package stateid

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerate(t *testing.T) {
	Convey("fresh ids carry the current timestamp", t, func() {
		before := nowMicros()
		id := Generate(Zero)
		after := nowMicros()
		So(id.IsZero(), ShouldBeFalse)
		So(id.Micros(), ShouldBeGreaterThanOrEqualTo, before)
		So(id.Micros(), ShouldBeLessThanOrEqualTo, after)
	})

	Convey("successor is strictly greater within the same microsecond", t, func() {
		orig := nowMicros
		defer func() { nowMicros = orig }()
		frozen := orig()
		nowMicros = func() int64 { return frozen }

		first := Generate(Zero)
		second := Generate(first)
		So(first.Less(second), ShouldBeTrue)
		So(second.Micros(), ShouldEqual, first.Micros()+1)
	})

	Convey("successor is strictly greater when the predecessor is in the future", t, func() {
		var prev ID
		future := nowMicros() + int64(1e9)
		for i := 0; i < 8; i++ {
			prev[i] = byte(future >> uint(56-8*i))
		}
		id := Generate(prev)
		So(prev.Less(id), ShouldBeTrue)
		So(id.Micros(), ShouldEqual, future+1)
	})

	Convey("chained generation is strictly increasing under clock regression", t, func() {
		orig := nowMicros
		defer func() { nowMicros = orig }()
		clock := orig()
		nowMicros = func() int64 {
			clock -= 10 // clock running backwards
			return clock
		}

		prev := Generate(Zero)
		for i := 0; i < 100; i++ {
			next := Generate(prev)
			So(prev.Less(next), ShouldBeTrue)
			prev = next
		}
	})
}

func TestIDForms(t *testing.T) {
	Convey("text and raw forms round trip", t, func() {
		id := Generate(Zero)

		parsed, err := Parse(id.String())
		So(err, ShouldBeNil)
		So(parsed, ShouldResemble, id)

		rebuilt, err := FromBytes(id.Bytes())
		So(err, ShouldBeNil)
		So(rebuilt, ShouldResemble, id)
	})

	Convey("invalid forms are rejected", t, func() {
		_, err := Parse("not-an-uuid")
		So(err, ShouldNotBeNil)
		_, err = FromBytes([]byte{0x01, 0x02})
		So(err, ShouldNotBeNil)
	})

	Convey("order follows the embedded timestamp", t, func() {
		early := Generate(Zero)
		late := Generate(early)
		So(early.Compare(late), ShouldEqual, -1)
		So(late.Compare(early), ShouldEqual, 1)
		So(early.Compare(early), ShouldEqual, 0)
		So(Zero.Less(early), ShouldBeTrue)
	})
}
