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

// Package trace wraps the runtime execution tracer regions.
package trace

import (
	"context"
	"runtime/trace"
)

// Task is the alias of runtime trace task.
type Task = trace.Task

// Region is the alias of runtime trace region.
type Region = trace.Region

// NewTask creates a task instance with specified task type and returns context.
func NewTask(pctx context.Context, taskType string) (ctx context.Context, task *Task) {
	return trace.NewTask(pctx, taskType)
}

// StartRegion starts a region and returns the handler.
func StartRegion(ctx context.Context, regionType string) (region *Region) {
	return trace.StartRegion(ctx, regionType)
}

// WithRegion runs fn with a region bound.
func WithRegion(ctx context.Context, regionType string, fn func()) {
	trace.WithRegion(ctx, regionType, fn)
}
