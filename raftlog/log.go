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

// Package raftlog defines the replicated-log boundary the group 0 pipeline
// runs on. The consensus implementation itself stays behind the Log
// interface; the package ships an in-process implementation good enough to
// run a multi node cluster in one process.
package raftlog

import (
	"context"

	"github.com/margdoc/scylla/proto"
)

// WaitType selects how long AddEntry blocks.
type WaitType int

const (
	// WaitCommitted resolves once the entry is committed to the log.
	WaitCommitted WaitType = iota
	// WaitApplied resolves once the entry is applied on the local state machine.
	WaitApplied
)

// SnapshotDescriptor describes a snapshot the log asks a follower to adopt.
type SnapshotDescriptor struct {
	Index uint64
	ID    string
}

// Log is the replicated log consumed by the group 0 client. Follower to
// leader entry forwarding is assumed enabled: submitting from a follower
// forwards transparently instead of failing with ErrNotLeader.
type Log interface {
	// AddEntry submits an opaque payload and waits according to wait.
	// Known transient failures are ErrDroppedEntry and
	// ErrCommitStatusUnknown; both leave the command safe to resubmit.
	AddEntry(ctx context.Context, data []byte, wait WaitType) error
	// ReadBarrier returns once the local state machine applied every entry
	// committed at the time of the call.
	ReadBarrier(ctx context.Context) error
	// ID returns this node's identifier inside the log group.
	ID() proto.ServerID
}

// StateMachine consumes committed entries in log order.
type StateMachine interface {
	// Apply consumes a batch of committed entries, in order.
	Apply(batch [][]byte) error
	// TransferSnapshot pulls current state from the given peer and installs
	// it, possibly leapfrogging the log's applied index.
	TransferSnapshot(ctx context.Context, from proto.NodeAddr, descriptor SnapshotDescriptor) error
	// TakeSnapshot returns an identifier for the current state. State lives
	// in persistent tables, so this is structural only.
	TakeSnapshot() (string, error)
	// LoadSnapshot is a structural no-op, see TakeSnapshot.
	LoadSnapshot(id string) error
	// DropSnapshot is a structural no-op, see TakeSnapshot.
	DropSnapshot(id string)
}
