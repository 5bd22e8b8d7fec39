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

package proto

// NodeID is the node name, a stable hex identifier of a cluster member.
type NodeID string

// ServerID is the identifier of a node inside the replicated-log group.
type ServerID string

// NodeAddr is the broadcast address of a node in host:port form.
type NodeAddr string

// Node is the identity info of a single cluster member.
type Node struct {
	ID   NodeID
	Addr NodeAddr
}

// IsEmpty tests if the node id is empty.
func (id NodeID) IsEmpty() bool {
	return id == ""
}

// String implements fmt.Stringer.
func (id NodeID) String() string {
	return string(id)
}

// String implements fmt.Stringer.
func (id ServerID) String() string {
	return string(id)
}

// String implements fmt.Stringer.
func (a NodeAddr) String() string {
	return string(a)
}
