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

package storage

import "github.com/pkg/errors"

var (
	// ErrSchemaNotFound represents a lookup of an unregistered table.
	ErrSchemaNotFound = errors.New("table schema not found")
	// ErrStorageClosed represents an operation against a closed store.
	ErrStorageClosed = errors.New("storage closed")
)
