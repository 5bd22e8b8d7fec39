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
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/utils/log"
)

// InMemCluster is a single process replicated log: one totally ordered entry
// sequence fanned out to every joined node's state machine by a per node
// applier. Entry forwarding is always on, so AddEntry succeeds from any
// node. Fault injection hooks simulate the transient failures of a real log.
type InMemCluster struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries [][]byte
	nodes   []*InMemLog
	stopped bool
}

// NewInMemCluster creates an empty cluster.
func NewInMemCluster() *InMemCluster {
	c := &InMemCluster{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// InMemLog is one node's handle on the cluster log. It implements Log.
type InMemLog struct {
	c        *InMemCluster
	serverID proto.ServerID
	addr     proto.NodeAddr
	sm       StateMachine

	// all fields below are guarded by c.mu
	applied  int
	isolated bool

	dropNext      bool
	unknownNext   bool
	notLeaderNext bool
}

// AddNode registers a node handle. The node does not consume entries until
// Start attaches its state machine; this two step construction lets the
// state machine reference the node handle it is applied from.
func (c *InMemCluster) AddNode(serverID proto.ServerID, addr proto.NodeAddr) *InMemLog {
	n := &InMemLog{
		c:        c,
		serverID: serverID,
		addr:     addr,
	}

	c.mu.Lock()
	c.nodes = append(c.nodes, n)
	c.mu.Unlock()
	return n
}

// Start attaches the state machine and starts the applier.
func (n *InMemLog) Start(sm StateMachine) {
	n.c.mu.Lock()
	n.sm = sm
	n.c.mu.Unlock()
	go n.applyCycle()
}

// Stop shuts the cluster down, waking all blocked waiters.
func (c *InMemCluster) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// waitLocked blocks until pred holds, the context aborts or the cluster
// stops. Caller holds c.mu.
func (c *InMemCluster) waitLocked(ctx context.Context, pred func() bool) error {
	defer context.AfterFunc(ctx, c.cond.Broadcast)()

	for !pred() {
		if c.stopped {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "log wait aborted")
		}
		c.cond.Wait()
	}
	return nil
}

func (n *InMemLog) applyCycle() {
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.stopped {
			return
		}
		if n.isolated || n.applied >= len(c.entries) {
			c.cond.Wait()
			continue
		}

		batch := c.entries[n.applied:]
		target := len(c.entries)
		c.mu.Unlock()

		if err := n.sm.Apply(batch); err != nil {
			log.WithFields(log.Fields{
				"server": n.serverID,
				"from":   target - len(batch),
				"to":     target,
			}).WithError(err).Error("state machine apply failed")
		}

		c.mu.Lock()
		n.applied = target
		c.cond.Broadcast()
	}
}

// AddEntry implements Log.
func (n *InMemLog) AddEntry(ctx context.Context, data []byte, wait WaitType) (err error) {
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}

	if n.dropNext {
		n.dropNext = false
		return ErrDroppedEntry
	}
	if n.notLeaderNext {
		n.notLeaderNext = false
		return ErrNotLeader
	}

	commitUnknown := n.unknownNext
	n.unknownNext = false

	entry := append([]byte(nil), data...)
	c.entries = append(c.entries, entry)
	index := len(c.entries)
	c.cond.Broadcast()

	if commitUnknown {
		// the entry was committed, the submitter just never learns
		return ErrCommitStatusUnknown
	}

	if wait == WaitApplied {
		err = c.waitLocked(ctx, func() bool { return n.applied >= index })
	}
	return
}

// ReadBarrier implements Log.
func (n *InMemLog) ReadBarrier(ctx context.Context) error {
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}

	commitIndex := len(c.entries)
	return c.waitLocked(ctx, func() bool { return n.applied >= commitIndex })
}

// ID implements Log.
func (n *InMemLog) ID() proto.ServerID {
	return n.serverID
}

// Addr returns the node's broadcast address.
func (n *InMemLog) Addr() proto.NodeAddr {
	return n.addr
}

// Isolate suspends entry delivery to this node, simulating a lagging
// follower.
func (n *InMemLog) Isolate() {
	n.c.mu.Lock()
	n.isolated = true
	n.c.mu.Unlock()
}

// DropNextEntry makes the next AddEntry on this node fail with
// ErrDroppedEntry without committing.
func (n *InMemLog) DropNextEntry() {
	n.c.mu.Lock()
	n.dropNext = true
	n.c.mu.Unlock()
}

// ObscureNextCommit makes the next AddEntry on this node commit but report
// ErrCommitStatusUnknown.
func (n *InMemLog) ObscureNextCommit() {
	n.c.mu.Lock()
	n.unknownNext = true
	n.c.mu.Unlock()
}

// RefuseNextEntry makes the next AddEntry fail with ErrNotLeader, simulating
// a log with forwarding broken.
func (n *InMemLog) RefuseNextEntry() {
	n.c.mu.Lock()
	n.notLeaderNext = true
	n.c.mu.Unlock()
}

// CatchUp rejoins an isolated node through a snapshot transfer from source.
// The node's applied index is left untouched: entries between it and the
// snapshot index get replayed and are expected to no-op against the
// transferred state.
func (c *InMemCluster) CatchUp(ctx context.Context, lagging, source *InMemLog) (err error) {
	c.mu.Lock()
	descriptor := SnapshotDescriptor{
		Index: uint64(source.applied),
		ID:    fmt.Sprintf("snap-%d", source.applied),
	}
	from := source.addr
	c.mu.Unlock()

	if err = lagging.sm.TransferSnapshot(ctx, from, descriptor); err != nil {
		err = errors.Wrap(err, "transfer snapshot")
		return
	}

	c.mu.Lock()
	lagging.isolated = false
	c.cond.Broadcast()
	c.mu.Unlock()
	return
}

// Entries returns a copy of the committed log, for inspection in tests.
func (c *InMemCluster) Entries() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.entries))
	copy(out, c.entries)
	return out
}
