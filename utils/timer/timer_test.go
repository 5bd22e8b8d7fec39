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

package timer

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTimer(t *testing.T) {
	Convey("pivots accumulate into the duration map", t, func() {
		tm := NewTimer()
		time.Sleep(time.Millisecond)
		tm.Add("first")
		time.Sleep(time.Millisecond)
		tm.Add("second")

		m := tm.ToMap()
		So(m["first"], ShouldBeGreaterThan, 0)
		So(m["second"], ShouldBeGreaterThan, 0)
		So(m["total"], ShouldBeGreaterThanOrEqualTo, m["first"])

		f := tm.ToLogFields()
		So(f, ShouldContainKey, "total")
	})

	Convey("an empty timer yields an empty map", t, func() {
		So(NewTimer().ToMap(), ShouldBeEmpty)
	})
}
