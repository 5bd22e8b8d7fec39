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

// Package rpc carries the migration request between nodes: the schema pull
// used for follower catch-up, which for group 0 snapshot transfers also
// piggybacks the history table mutation capturing the remote's current last
// state.
package rpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/margdoc/scylla/history"
	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/schema"
	"github.com/margdoc/scylla/stateid"
	"github.com/margdoc/scylla/storage"
	"github.com/margdoc/scylla/utils/log"
)

// MigrationRequest asks a peer for its schema tables. With
// Group0SnapshotTransfer set, the peer also returns its group 0 history
// mutation.
type MigrationRequest struct {
	Group0SnapshotTransfer bool `json:"group0_snapshot_transfer"`
}

// MigrationResponse carries serialized canonical mutations.
type MigrationResponse struct {
	SchemaMutations [][]byte `json:"schema_mutations"`
	HistoryMutation []byte   `json:"history_mutation,omitempty"`
}

// DecodeSchemaMutations rebuilds the schema mutation batch.
func (r *MigrationResponse) DecodeSchemaMutations() (muts []storage.Mutation, err error) {
	muts = make([]storage.Mutation, 0, len(r.SchemaMutations))
	for _, data := range r.SchemaMutations {
		var m storage.Mutation
		if m, err = storage.DeserializeMutation(data); err != nil {
			return
		}
		muts = append(muts, m)
	}
	return
}

// DecodeHistoryMutation rebuilds the piggybacked history mutation, nil when
// the peer sent none.
func (r *MigrationResponse) DecodeHistoryMutation() (m *storage.Mutation, err error) {
	if len(r.HistoryMutation) == 0 {
		return
	}
	var mut storage.Mutation
	if mut, err = storage.DeserializeMutation(r.HistoryMutation); err != nil {
		return
	}
	m = &mut
	return
}

// Messaging is the client side of the migration request.
type Messaging interface {
	SendMigrationRequest(ctx context.Context, addr proto.NodeAddr, req MigrationRequest) (*MigrationResponse, error)
}

// MigrationService answers migration requests from local storage.
type MigrationService struct {
	strg storage.Storage
}

// NewMigrationService creates a responder over the given store.
func NewMigrationService(strg storage.Storage) *MigrationService {
	return &MigrationService{strg: strg}
}

// ServeMigrationRequest builds the response for one request.
func (s *MigrationService) ServeMigrationRequest(req MigrationRequest) (resp *MigrationResponse, err error) {
	muts, err := schema.Mutations(s.strg)
	if err != nil {
		err = errors.Wrap(err, "collect schema mutations")
		return
	}

	resp = &MigrationResponse{
		SchemaMutations: make([][]byte, 0, len(muts)),
	}
	for i := range muts {
		var data []byte
		if data, err = muts[i].Serialize(); err != nil {
			return
		}
		resp.SchemaMutations = append(resp.SchemaMutations, data)
	}

	if !req.Group0SnapshotTransfer {
		return
	}

	last, err := s.strg.LastMutationLocally(history.Schema)
	if err != nil {
		err = errors.Wrap(err, "read last history mutation")
		return
	}
	if last == nil {
		// empty history still honors the snapshot transfer contract
		last = history.MakeStateIDMutation(stateid.Zero, 0, "")
	}
	if resp.HistoryMutation, err = last.Serialize(); err != nil {
		return
	}

	log.WithField("schema_mutations", len(resp.SchemaMutations)).
		Debug("served group 0 snapshot transfer")
	return
}

// LocalRegistry is an in-process Messaging implementation dispatching by
// broadcast address, used by tests and the single process harness.
type LocalRegistry struct {
	mu       sync.RWMutex
	services map[proto.NodeAddr]*MigrationService
}

// NewLocalRegistry creates an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{
		services: make(map[proto.NodeAddr]*MigrationService),
	}
}

// Register publishes a node's migration service.
func (r *LocalRegistry) Register(addr proto.NodeAddr, s *MigrationService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[addr] = s
}

// SendMigrationRequest implements Messaging.
func (r *LocalRegistry) SendMigrationRequest(ctx context.Context, addr proto.NodeAddr, req MigrationRequest) (*MigrationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "migration request aborted")
	}

	r.mu.RLock()
	s, ok := r.services[addr]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no migration service at %s", addr)
	}
	return s.ServeMigrationRequest(req)
}
