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

// QueryType tags the kv query variants.
type QueryType uint16

const (
	// QuerySelect reads one key.
	QuerySelect QueryType = iota
	// QueryUpdate writes one key, optionally guarded by a value condition.
	QueryUpdate
)

func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "QuerySelect"
	case QueryUpdate:
		return "QueryUpdate"
	default:
		return "Unknown"
	}
}

// SelectQuery reads the value stored under Key.
type SelectQuery struct {
	Key []byte `codec:"k"`
}

// UpdateQuery stores NewValue under Key. When Conditional is set the write
// only applies if the current value equals ValueCondition.
type UpdateQuery struct {
	Key            []byte `codec:"k"`
	NewValue       []byte `codec:"v"`
	Conditional    bool   `codec:"c"`
	ValueCondition []byte `codec:"w"`
}

// KVQuery is the tagged kv query union travelling inside a command.
type KVQuery struct {
	Type   QueryType    `codec:"t"`
	Select *SelectQuery `codec:"s"`
	Update *UpdateQuery `codec:"u"`
}

// NewSelectQuery wraps a select variant.
func NewSelectQuery(key []byte) *KVQuery {
	return &KVQuery{
		Type:   QuerySelect,
		Select: &SelectQuery{Key: key},
	}
}

// NewUpdateQuery wraps an unconditional update variant.
func NewUpdateQuery(key, newValue []byte) *KVQuery {
	return &KVQuery{
		Type:   QueryUpdate,
		Update: &UpdateQuery{Key: key, NewValue: newValue},
	}
}

// NewConditionalUpdateQuery wraps a conditional update variant.
func NewConditionalUpdateQuery(key, newValue, valueCondition []byte) *KVQuery {
	return &KVQuery{
		Type: QueryUpdate,
		Update: &UpdateQuery{
			Key:            key,
			NewValue:       newValue,
			Conditional:    true,
			ValueCondition: valueCondition,
		},
	}
}

func (q *KVQuery) validate() error {
	switch q.Type {
	case QuerySelect:
		if q.Select == nil {
			return errors.Wrap(ErrUnknownPayloadTag, "select query without body")
		}
	case QueryUpdate:
		if q.Update == nil {
			return errors.Wrap(ErrUnknownPayloadTag, "update query without body")
		}
	default:
		return errors.Wrapf(ErrUnknownPayloadTag, "kv query tag %d", q.Type)
	}
	return nil
}

// ResultType tags the kv query result variants.
type ResultType uint16

const (
	// ResultNone is returned by unconditional updates.
	ResultNone ResultType = iota
	// ResultSelect carries the value read by a select.
	ResultSelect
	// ResultConditionalUpdate reports a conditional update outcome.
	ResultConditionalUpdate
)

// SelectResult is the payload of a select result. Exists distinguishes an
// empty value from a missing partition.
type SelectResult struct {
	Value  []byte `codec:"v"`
	Exists bool   `codec:"e"`
}

// ConditionalUpdateResult reports whether the guarded write applied and the
// value observed before it.
type ConditionalUpdateResult struct {
	Applied        bool   `codec:"a"`
	PreviousValue  []byte `codec:"v"`
	PreviousExists bool   `codec:"e"`
}

// QueryResult is the tagged result union delivered through the side channel.
type QueryResult struct {
	Type              ResultType               `codec:"t"`
	Select            *SelectResult            `codec:"s"`
	ConditionalUpdate *ConditionalUpdateResult `codec:"u"`
}
