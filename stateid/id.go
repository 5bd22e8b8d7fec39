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

// Package stateid implements the time-ordered 128-bit identifiers recorded in
// the group 0 history table. The first 8 bytes hold a big-endian microsecond
// timestamp, the last 8 bytes a random tail, so bytewise comparison gives the
// total order and the embedded timestamp is directly extractable.
package stateid

import (
	"bytes"
	crand "crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ID is a group 0 state identifier.
type ID [16]byte

// Zero is the null state ID, used as the predecessor of the first recorded state.
var Zero ID

// Micros returns the microsecond timestamp embedded in the ID.
func (id ID) Micros() int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}

// IsZero tests against the null state ID.
func (id ID) IsZero() bool {
	return id == Zero
}

// Less returns whether id orders strictly before other.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// Compare returns -1, 0 or 1 comparing id against other in state ID order.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Bytes returns the raw 16 byte form.
func (id ID) Bytes() []byte {
	out := make([]byte, len(id))
	copy(out, id[:])
	return out
}

// String implements fmt.Stringer using the canonical uuid text form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// FromBytes rebuilds an ID from its raw 16 byte form.
func FromBytes(raw []byte) (id ID, err error) {
	u, err := uuid.FromBytes(raw)
	if err != nil {
		err = errors.Wrap(err, "decode state id")
		return
	}
	id = ID(u)
	return
}

// Parse rebuilds an ID from its canonical uuid text form.
func Parse(s string) (id ID, err error) {
	u, err := uuid.Parse(s)
	if err != nil {
		err = errors.Wrap(err, "parse state id")
		return
	}
	id = ID(u)
	return
}

// nowMicros is swappable in tests to simulate clock regression.
var nowMicros = func() int64 {
	return time.Now().UnixMicro()
}

// Generate produces a fresh state ID strictly greater than prev. The embedded
// timestamp is max(now, prev micros + 1), so the chain stays strictly
// increasing even when the wall clock moves backwards or repeats within a
// microsecond. Cross node collisions are avoided by the random tail.
func Generate(prev ID) (id ID) {
	ts := nowMicros()
	if !prev.IsZero() {
		if lowerBound := prev.Micros(); ts <= lowerBound {
			ts = lowerBound + 1
		}
	}

	binary.BigEndian.PutUint64(id[:8], uint64(ts))
	if _, err := crand.Read(id[8:]); err != nil {
		// crypto/rand failure leaves the process without a usable entropy
		// source, nothing sensible to degrade to.
		panic(err)
	}
	return
}
