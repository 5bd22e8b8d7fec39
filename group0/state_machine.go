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

package group0

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/margdoc/scylla/group0/types"
	"github.com/margdoc/scylla/history"
	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/raftlog"
	"github.com/margdoc/scylla/rpc"
	"github.com/margdoc/scylla/schema"
	"github.com/margdoc/scylla/utils/log"
	"github.com/margdoc/scylla/utils/trace"
)

// StateMachine applies committed group 0 commands on this node. It shares
// the client's apply lock so guards never observe a half applied command.
type StateMachine struct {
	c         *Client
	merger    schema.Merger
	messaging rpc.Messaging
}

// NewStateMachine wires the applier to its node's client.
func NewStateMachine(c *Client, merger schema.Merger, messaging rpc.Messaging) *StateMachine {
	return &StateMachine{
		c:         c,
		merger:    merger,
		messaging: messaging,
	}
}

// Apply implements raftlog.StateMachine.
func (m *StateMachine) Apply(batch [][]byte) (err error) {
	ctx, task := trace.NewTask(context.Background(), "group0.Apply")
	defer task.End()

	for _, data := range batch {
		var cmd types.Command
		if cmd, err = types.DeserializeCommand(data); err != nil {
			return
		}
		if err = m.applyOne(ctx, &cmd); err != nil {
			return
		}
	}
	return
}

func (m *StateMachine) applyOne(ctx context.Context, cmd *types.Command) (err error) {
	log.WithFields(log.Fields{
		"prev_state_id": cmd.PrevStateID,
		"new_state_id":  cmd.NewStateID,
		"creator_addr":  cmd.CreatorAddr,
		"creator_id":    cmd.CreatorID,
	}).Debug("applying group 0 command")

	if err = m.c.readApplyMutex.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquire apply lock")
	}
	defer m.c.readApplyMutex.Release(1)

	if cmd.PrevStateID != nil {
		lastStateID, err := history.Last(m.c.strg)
		if err != nil {
			return err
		}
		if *cmd.PrevStateID != lastStateID {
			// The command was built against obsolete state, skip it whole.
			// After a restart or a snapshot transfer the history reflects the
			// latest table state, so replayed entries land here as well.
			log.WithFields(log.Fields{
				"prev_state_id": cmd.PrevStateID,
				"last_state_id": lastStateID,
			}).Debug("skipping group 0 command, state changed since it was built")
			return nil
		}
	}

	// The change applies before the history append: if the process crashes
	// between the two, the prev state ID check re-admits the command on
	// replay and the change re-applies idempotently.

	switch cmd.Change.Type {
	case types.ChangeSchema:
		if err = m.merger.MergeSchemaFrom(cmd.CreatorAddr, cmd.Change.Schema.Mutations); err != nil {
			return
		}
	case types.ChangeKVQuery:
		var result *types.QueryResult
		if result, err = executeKVQuery(m.c.strg, cmd.Change.KVQuery, cmd); err != nil {
			return
		}
		m.c.setQueryResult(cmd.NewStateID, result)
	default:
		return errors.Wrapf(types.ErrUnknownPayloadTag, "change tag %d", cmd.Change.Type)
	}

	// the history append must stay the last write of the command
	return m.c.strg.MutateLocally(&cmd.HistoryAppend)
}

// TransferSnapshot implements raftlog.StateMachine: it pulls schema and
// history mutations from the peer and installs them under the apply lock.
// The transferred state may be newer than the snapshot index, so replayed
// log entries after it no-op through the prev state ID check.
func (m *StateMachine) TransferSnapshot(ctx context.Context, from proto.NodeAddr, descriptor raftlog.SnapshotDescriptor) (err error) {
	log.WithFields(log.Fields{
		"from":     from,
		"index":    descriptor.Index,
		"snapshot": descriptor.ID,
	}).Debug("group 0 snapshot transfer")

	resp, err := m.messaging.SendMigrationRequest(ctx, from, rpc.MigrationRequest{
		Group0SnapshotTransfer: true,
	})
	if err != nil {
		return errors.Wrap(err, "migration request")
	}

	historyMut, err := resp.DecodeHistoryMutation()
	if err != nil {
		return
	}
	if historyMut == nil {
		// a peer speaking the group 0 protocol must send its history state
		err = errors.Wrapf(types.ErrMissingHistoryMutation, "peer %s", from)
		log.WithError(err).Error("internal error")
		return
	}

	schemaMuts, err := resp.DecodeSchemaMutations()
	if err != nil {
		return
	}

	if err = m.c.readApplyMutex.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquire apply lock")
	}
	defer m.c.readApplyMutex.Release(1)

	if err = m.merger.MergeSchemaFrom(from, schemaMuts); err != nil {
		return
	}
	return m.c.strg.MutateLocally(historyMut)
}

// TakeSnapshot implements raftlog.StateMachine. State lives in the
// persistent tables, the returned id is structural only.
func (m *StateMachine) TakeSnapshot() (string, error) {
	return uuid.NewString(), nil
}

// LoadSnapshot implements raftlog.StateMachine as a structural no-op.
func (m *StateMachine) LoadSnapshot(id string) error {
	return nil
}

// DropSnapshot implements raftlog.StateMachine as a structural no-op.
func (m *StateMachine) DropSnapshot(id string) {
}
