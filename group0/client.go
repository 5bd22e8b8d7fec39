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

// Package group0 linearizes cluster wide metadata mutations through the
// replicated log.
//
// Commands execute in log order on every node, but proposers construct them
// from local state that may already be stale by the time the command
// applies. The history table records the state ID of every applied command;
// a command carrying a prev state ID only applies when it still matches the
// last history entry, otherwise it skips as a no-op and the proposer learns
// about it through the history membership check after submission.
//
// A proposal starts by obtaining a Guard: it serializes proposers on this
// node (operation lock), waits for a read barrier so local state reflects
// everything committed, and holds the apply lock so reads never observe a
// half applied command. The guard carries the observed state ID and a fresh
// new state ID strictly greater than it; the microsecond component of the
// new state ID is the write timestamp of every mutation the command carries,
// which keeps timestamps of applied commands strictly monotonic.
package group0

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/margdoc/scylla/group0/types"
	"github.com/margdoc/scylla/history"
	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/raftlog"
	"github.com/margdoc/scylla/stateid"
	"github.com/margdoc/scylla/storage"
	"github.com/margdoc/scylla/utils/log"
	"github.com/margdoc/scylla/utils/timer"
	"github.com/margdoc/scylla/utils/trace"
)

// KVStoreKeyspace and KVStoreTableName locate the strongly consistent kv
// table.
const (
	KVStoreKeyspace  = "system"
	KVStoreTableName = "group0_kv_store"

	kvValueColumn = "value"
)

// KVStoreSchema is the registered kv store table.
var KVStoreSchema = storage.RegisterSchema(&storage.TableSchema{
	Keyspace: KVStoreKeyspace,
	Name:     KVStoreTableName,
})

// Config collects the collaborators of a group 0 client.
type Config struct {
	NodeID        proto.NodeID
	BroadcastAddr proto.NodeAddr
	Log           raftlog.Log
	Storage       storage.Storage

	// Coordinator marks the client running on the coordinator shard. Guarded
	// operations must only be invoked there.
	Coordinator bool
	// Enabled selects the full protocol; when unset (legacy path) guards own
	// no locks and no barrier runs.
	Enabled bool

	HistoryGCDuration time.Duration
}

// Client coordinates group 0 proposals on one node. There is exactly one per
// node: the operation and apply locks it owns are the per node serialization
// points of the protocol.
type Client struct {
	nodeID proto.NodeID
	addr   proto.NodeAddr
	rlog   raftlog.Log
	strg   storage.Storage

	coordinator bool
	enabled     bool

	operationMutex *semaphore.Weighted
	readApplyMutex *semaphore.Weighted

	gcMu              sync.RWMutex
	historyGCDuration time.Duration

	results sync.Map // stateid.ID -> *types.QueryResult
}

var clientIndex = struct {
	mu      sync.Mutex
	clients map[proto.NodeID]*Client
}{
	clients: make(map[proto.NodeID]*Client),
}

// NewClient constructs the node's group 0 client. A second construction for
// the same node fails with ErrClientExists.
func NewClient(cfg *Config) (c *Client, err error) {
	clientIndex.mu.Lock()
	defer clientIndex.mu.Unlock()

	if _, ok := clientIndex.clients[cfg.NodeID]; ok {
		err = errors.Wrapf(types.ErrClientExists, "node %s", cfg.NodeID)
		return
	}

	c = &Client{
		nodeID:            cfg.NodeID,
		addr:              cfg.BroadcastAddr,
		rlog:              cfg.Log,
		strg:              cfg.Storage,
		coordinator:       cfg.Coordinator,
		enabled:           cfg.Enabled,
		operationMutex:    semaphore.NewWeighted(1),
		readApplyMutex:    semaphore.NewWeighted(1),
		historyGCDuration: cfg.HistoryGCDuration,
	}
	clientIndex.clients[cfg.NodeID] = c
	return
}

// Close unregisters the client.
func (c *Client) Close() {
	clientIndex.mu.Lock()
	defer clientIndex.mu.Unlock()
	delete(clientIndex.clients, c.nodeID)
}

// SetHistoryGCDuration adjusts how long reclaimed history entries live.
func (c *Client) SetHistoryGCDuration(d time.Duration) {
	c.gcMu.Lock()
	defer c.gcMu.Unlock()
	c.historyGCDuration = d
}

// HistoryGCDuration returns the current gc_after recorded on new commands.
func (c *Client) HistoryGCDuration() time.Duration {
	c.gcMu.RLock()
	defer c.gcMu.RUnlock()
	return c.historyGCDuration
}

// Guard is the proposer side token of one group 0 operation. It is owned by
// a single proposer and not safe for concurrent use.
type Guard struct {
	c *Client

	observedStateID stateid.ID
	newStateID      stateid.ID

	operationHeld bool
	readApplyHeld bool
}

// ObservedStateID is the last history entry at guard acquisition.
func (g *Guard) ObservedStateID() stateid.ID {
	return g.observedStateID
}

// NewStateID is the state ID pre-allocated for this operation.
func (g *Guard) NewStateID() stateid.ID {
	return g.newStateID
}

// WriteTimestamp returns the timestamp the proposer must stamp on every
// mutation constructed under this guard.
func (g *Guard) WriteTimestamp() int64 {
	return g.newStateID.Micros()
}

func (g *Guard) releaseReadApply() {
	if g.readApplyHeld {
		g.readApplyHeld = false
		g.c.readApplyMutex.Release(1)
	}
}

// Release drops every lock the guard still owns. Idempotent.
func (g *Guard) Release() {
	g.releaseReadApply()
	if g.operationHeld {
		g.operationHeld = false
		g.c.operationMutex.Release(1)
	}
}

// StartOperation begins a group 0 operation: it serializes against other
// local proposers, waits for a read barrier, takes the apply lock and
// snapshots the current last state ID. The returned guard must be passed to
// AddEntry or released.
func (c *Client) StartOperation(ctx context.Context) (g *Guard, err error) {
	if !c.enabled {
		return &Guard{
			c:               c,
			observedStateID: stateid.Zero,
			newStateID:      stateid.Generate(stateid.Zero),
		}, nil
	}

	if !c.coordinator {
		// every caller constructing guards checks the coordinator first
		err = errors.Wrap(types.ErrNotCoordinator, "start operation")
		log.WithField("node", c.nodeID).WithError(err).Error("internal error")
		return
	}

	if err = c.operationMutex.Acquire(ctx, 1); err != nil {
		err = errors.Wrap(err, "acquire operation lock")
		return
	}

	if err = c.rlog.ReadBarrier(ctx); err != nil {
		c.operationMutex.Release(1)
		err = errors.Wrap(err, "read barrier")
		return
	}

	// The apply lock is taken after the barrier: the barrier waits for
	// command application, which takes the same lock.
	if err = c.readApplyMutex.Acquire(ctx, 1); err != nil {
		c.operationMutex.Release(1)
		err = errors.Wrap(err, "acquire apply lock")
		return
	}

	observed, err := history.Last(c.strg)
	if err != nil {
		c.readApplyMutex.Release(1)
		c.operationMutex.Release(1)
		return
	}

	return &Guard{
		c:               c,
		observedStateID: observed,
		newStateID:      stateid.Generate(observed),
		operationHeld:   true,
		readApplyHeld:   true,
	}, nil
}

// PrepareCommand builds a guarded schema change command. The prev state ID
// is always engaged, which is what makes retried submissions idempotent.
func (c *Client) PrepareCommand(change *types.SchemaChange, guard *Guard, description string) *types.Command {
	observed := guard.ObservedStateID()
	return &types.Command{
		Change: types.Change{
			Type:   types.ChangeSchema,
			Schema: change,
		},
		HistoryAppend: *history.MakeStateIDMutation(guard.NewStateID(), c.HistoryGCDuration(), description),

		PrevStateID: &observed,
		NewStateID:  guard.NewStateID(),

		CreatorAddr: c.addr,
		CreatorID:   c.rlog.ID(),
	}
}

// PrepareKVCommand builds an unguarded kv query command: apply is
// unconditional and the state ID is generated without a predecessor.
func (c *Client) PrepareKVCommand(query *types.KVQuery) *types.Command {
	newStateID := stateid.Generate(stateid.Zero)
	return &types.Command{
		Change: types.Change{
			Type:    types.ChangeKVQuery,
			KVQuery: query,
		},
		HistoryAppend: *history.MakeStateIDMutation(newStateID, c.HistoryGCDuration(), ""),

		NewStateID: newStateID,

		CreatorAddr: c.addr,
		CreatorID:   c.rlog.ID(),
	}
}

// submit pushes serialized command bytes into the log, retrying the
// transient failures. Applies are idempotent under the prev state ID check,
// so resubmitting a possibly committed command is safe.
func (c *Client) submit(ctx context.Context, cmd *types.Command, data []byte) (err error) {
	for {
		err = c.rlog.AddEntry(ctx, data, raftlog.WaitApplied)

		switch errors.Cause(err) {
		case nil:
			return
		case raftlog.ErrDroppedEntry, raftlog.ErrCommitStatusUnknown:
			log.WithFields(log.Fields{
				"prev_state_id": cmd.PrevStateID,
				"new_state_id":  cmd.NewStateID,
			}).WithError(err).Warn("add entry: retrying the command")
		case raftlog.ErrNotLeader:
			// with entry forwarding enabled this is a broken invariant
			log.WithError(err).Error("add entry: unexpected not-a-leader error, please file an issue")
			return errors.Wrap(err, "add entry")
		default:
			return errors.Wrap(err, "add entry")
		}
	}
}

// AddEntry submits a guarded command and waits until it is applied locally.
// Returns types.ErrConcurrentModification when the command committed but
// applied as a no-op because another command changed the state first.
func (c *Client) AddEntry(ctx context.Context, cmd *types.Command, guard *Guard) (err error) {
	ctx, task := trace.NewTask(ctx, "group0.AddEntry")
	defer task.End()

	if !c.coordinator {
		err = errors.Wrap(types.ErrNotCoordinator, "add entry")
		log.WithField("node", c.nodeID).WithError(err).Error("internal error")
		guard.Release()
		return
	}

	tm := timer.NewTimer()
	newStateID := cmd.NewStateID

	defer func() {
		log.WithField("new_state_id", newStateID).
			WithFields(tm.ToLogFields()).
			WithError(err).
			Debug("group 0 add entry")
	}()

	err = func() (err error) {
		defer guard.Release()

		var data []byte
		if data, err = cmd.Serialize(); err != nil {
			return
		}
		tm.Add("serialize")

		// Release the apply lock so the local applier can run this and prior
		// commands while we wait.
		guard.releaseReadApply()

		err = c.submit(ctx, cmd, data)
		tm.Add("submit")
		return

		// dropping the guard releases the operation lock, other proposals on
		// this node may proceed
	}()
	if err != nil {
		return
	}

	contained, err := history.Contains(c.strg, newStateID)
	if err != nil {
		return
	}
	tm.Add("history_check")

	if !contained {
		// the command applied everywhere but the history skipped it: the
		// prev state ID no longer matched
		err = types.ErrConcurrentModification
	}
	return
}

// AddEntryUnguarded submits a command without locks or barriers. Only valid
// for commands without a prev state ID, which are globally idempotent by
// construction.
func (c *Client) AddEntryUnguarded(ctx context.Context, cmd *types.Command) (err error) {
	ctx, task := trace.NewTask(ctx, "group0.AddEntryUnguarded")
	defer task.End()

	if !c.coordinator {
		err = errors.Wrap(types.ErrNotCoordinator, "add entry unguarded")
		log.WithField("node", c.nodeID).WithError(err).Error("internal error")
		return
	}

	data, err := cmd.Serialize()
	if err != nil {
		return
	}
	return c.submit(ctx, cmd, data)
}

// setQueryResult records a kv query result on the node that applied it.
func (c *Client) setQueryResult(id stateid.ID, result *types.QueryResult) {
	c.results.Store(id, result)
}

// TakeQueryResult fetches and removes the pending result of a command. A
// missing result for a command this node proposed means apply skipped it.
func (c *Client) TakeQueryResult(id stateid.ID) (result *types.QueryResult, ok bool) {
	v, ok := c.results.LoadAndDelete(id)
	if !ok {
		return
	}
	result = v.(*types.QueryResult)
	return
}

// RemoveQueryResult drops a pending result. Results of commands proposed by
// other nodes pile up otherwise, every node stores them during apply.
func (c *Client) RemoveQueryResult(id stateid.ID) {
	c.results.Delete(id)
}
