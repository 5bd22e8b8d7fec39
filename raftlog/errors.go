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

import "github.com/pkg/errors"

var (
	// ErrDroppedEntry represents an entry dropped by the log without being
	// committed. Resubmitting is always safe.
	ErrDroppedEntry = errors.New("entry dropped from the log")
	// ErrCommitStatusUnknown represents a submission whose commit outcome the
	// leader could not determine. The entry may or may not be committed.
	ErrCommitStatusUnknown = errors.New("commit status unknown")
	// ErrNotLeader represents a submission rejected because this node is not
	// the leader while forwarding is unavailable.
	ErrNotLeader = errors.New("not a leader")
	// ErrStopped represents an operation against a stopped log.
	ErrStopped = errors.New("log stopped")
)
