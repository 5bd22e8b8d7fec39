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

package types

import "github.com/pkg/errors"

var (
	// ErrConcurrentModification represents a command that committed but
	// applied as a no-op because another command changed group 0 state
	// first. The caller retries the whole operation.
	ErrConcurrentModification = errors.New("group 0 concurrent modification")
	// ErrUnsupportedOperation represents a statement outside the supported
	// subset for the group 0 kv store. Rejected at compile time as an
	// invalid request.
	ErrUnsupportedOperation = errors.New("currently unsupported operation on group0_kv_store")
	// ErrNotCoordinator represents a group 0 entry point invoked outside the
	// coordinator context. Internal error, must not happen.
	ErrNotCoordinator = errors.New("group 0 operation outside the coordinator")
	// ErrUnknownPayloadTag represents a command payload carrying a variant
	// tag this version does not understand. Decoding stops.
	ErrUnknownPayloadTag = errors.New("unknown command payload tag")
	// ErrMissingHistoryMutation represents a snapshot transfer response
	// without the group 0 history mutation. Internal error: a peer speaking
	// the group 0 protocol must supply it.
	ErrMissingHistoryMutation = errors.New("group 0 history mutation not found")
	// ErrClientExists represents a second group 0 client constructed for the
	// same node.
	ErrClientExists = errors.New("group 0 client already constructed")
	// ErrMultipleRows represents a kv store partition holding more than the
	// single permitted row.
	ErrMultipleRows = errors.New("multiple rows per key in group0_kv_store")
)
