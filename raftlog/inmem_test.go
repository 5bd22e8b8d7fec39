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

package raftlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/margdoc/scylla/proto"
)

type recordingSM struct {
	mu      sync.Mutex
	applied [][]byte

	transfers []proto.NodeAddr
}

func (r *recordingSM) Apply(batch [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, batch...)
	return nil
}

func (r *recordingSM) TransferSnapshot(ctx context.Context, from proto.NodeAddr, descriptor SnapshotDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, from)
	return nil
}

func (r *recordingSM) TakeSnapshot() (string, error) { return "snap", nil }
func (r *recordingSM) LoadSnapshot(string) error     { return nil }
func (r *recordingSM) DropSnapshot(string)           {}

func (r *recordingSM) entries() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.applied))
	copy(out, r.applied)
	return out
}

func TestInMemCluster(t *testing.T) {
	Convey("given a two node cluster", t, func() {
		c := NewInMemCluster()
		defer c.Stop()

		sm1, sm2 := new(recordingSM), new(recordingSM)
		n1 := c.AddNode("srv-1", "127.0.0.1:1")
		n1.Start(sm1)
		n2 := c.AddNode("srv-2", "127.0.0.1:2")
		n2.Start(sm2)

		ctx := context.Background()

		Convey("entries apply in order on every node", func() {
			So(n1.AddEntry(ctx, []byte("a"), WaitApplied), ShouldBeNil)
			So(n2.AddEntry(ctx, []byte("b"), WaitApplied), ShouldBeNil)
			So(n1.ReadBarrier(ctx), ShouldBeNil)
			So(n2.ReadBarrier(ctx), ShouldBeNil)

			So(sm1.entries(), ShouldResemble, [][]byte{[]byte("a"), []byte("b")})
			So(sm2.entries(), ShouldResemble, [][]byte{[]byte("a"), []byte("b")})
		})

		Convey("a dropped entry never commits", func() {
			n1.DropNextEntry()
			err := n1.AddEntry(ctx, []byte("a"), WaitApplied)
			So(errors.Cause(err), ShouldEqual, ErrDroppedEntry)
			So(len(c.Entries()), ShouldEqual, 0)
		})

		Convey("an obscured commit still commits", func() {
			n1.ObscureNextCommit()
			err := n1.AddEntry(ctx, []byte("a"), WaitApplied)
			So(errors.Cause(err), ShouldEqual, ErrCommitStatusUnknown)
			So(n1.ReadBarrier(ctx), ShouldBeNil)
			So(sm1.entries(), ShouldResemble, [][]byte{[]byte("a")})
		})

		Convey("a refused entry reports not a leader", func() {
			n1.RefuseNextEntry()
			err := n1.AddEntry(ctx, []byte("a"), WaitApplied)
			So(errors.Cause(err), ShouldEqual, ErrNotLeader)
		})

		Convey("an isolated node stops applying until catch-up", func() {
			n2.Isolate()
			So(n1.AddEntry(ctx, []byte("a"), WaitApplied), ShouldBeNil)
			So(sm2.entries(), ShouldBeEmpty)

			barrierCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			So(n2.ReadBarrier(barrierCtx), ShouldNotBeNil)

			So(c.CatchUp(ctx, n2, n1), ShouldBeNil)
			So(sm2.transfers, ShouldResemble, []proto.NodeAddr{"127.0.0.1:1"})

			// the suspended entries replay after rejoin
			So(n2.ReadBarrier(ctx), ShouldBeNil)
			So(sm2.entries(), ShouldResemble, [][]byte{[]byte("a")})
		})

		Convey("aborted waits release with the context error", func() {
			n2.Isolate()
			So(n1.AddEntry(ctx, []byte("a"), WaitApplied), ShouldBeNil)

			abortCtx, cancel := context.WithCancel(ctx)
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
			err := n2.ReadBarrier(abortCtx)
			So(errors.Cause(err), ShouldEqual, context.Canceled)
		})
	})
}
