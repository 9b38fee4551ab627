/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

/*
Package dispatch implements execute_batch: the engine's central
orchestration loop. It sets the undo token, walks a batch's fragment ids
through the plan cache, runs each fragment's executor vector, and
assembles either a populated result set or an exception describing the
first fragment that failed.

Grounded on flydb/internal/sql.Executor's statement-execution loop
(fetch/compile/run/collect-results) and flydb/internal/storage.Transaction's
buffered-apply/rollback pattern, restructured around a vector of
pre-built executors rather than a freshly parsed AST, and widened from
one statement to a batch of N fragments sharing one undo token.
*/
package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"flyengine/internal/errors"
	"flyengine/internal/exec"
	"flyengine/internal/logging"
	"flyengine/internal/metrics"
	"flyengine/internal/plancache"
	"flyengine/internal/registry"
	"flyengine/internal/table"
	"flyengine/internal/topend"
	"flyengine/internal/undo"
)

// FragmentStat is one entry of the per-fragment-stats header: the
// dispatcher appends one per attempted fragment, including the failing
// one.
type FragmentStat struct {
	FragmentID int64
	ElapsedNS  int64
	Succeeded  bool
}

// ExceptionInfo describes the fragment that aborted the batch.
type ExceptionInfo struct {
	Err           error
	FragmentIndex int
}

// BatchRequest is execute_batch's input.
type BatchRequest struct {
	FragmentIDs []int64
	Params      [][]table.Value // Params[i] are fragment i's bound parameters
	UndoToken   int64
	Fallible    bool
	Trace       string // correlation id; generated if empty
}

// BatchResult is execute_batch's output. On failure, Results is empty
// and Exception is populated; Stats always reflects every fragment
// attempted, including the failing one.
type BatchResult struct {
	Results   []exec.Dependency
	Stats     []FragmentStat
	Exception *ExceptionInfo
}

// Dispatcher is the engine's batch-execution loop. One Dispatcher per
// engine instance; ExecuteBatch is not re-entrant, matching the engine's
// single in-flight call at a time.
type Dispatcher struct {
	mu sync.Mutex

	undoLog   *undo.Log
	planCache *plancache.Cache
	registry  *registry.Registry
	top       topend.Topend
	log       *logging.Logger
}

// New constructs a Dispatcher over the given engine-owned collaborators.
func New(undoLog *undo.Log, planCache *plancache.Cache, reg *registry.Registry, top topend.Topend) *Dispatcher {
	return &Dispatcher{undoLog: undoLog, planCache: planCache, registry: reg, top: top, log: logging.NewLogger("dispatch")}
}

var ErrConcurrentBatch = errors.Serialization("dispatch: execute_batch called while another batch is in flight")

// ExecuteBatch runs req's fragments in order, stopping at the first
// error. See BatchRequest/BatchResult for the shape.
func (d *Dispatcher) ExecuteBatch(req BatchRequest) (*BatchResult, error) {
	if !d.mu.TryLock() {
		return nil, ErrConcurrentBatch
	}
	defer d.mu.Unlock()

	trace := req.Trace
	if trace == "" {
		trace = uuid.NewString()
	}
	d.log.Info("batch started", "trace", trace, "fragments", len(req.FragmentIDs))

	d.undoLog.SetToken(req.UndoToken)

	result := &BatchResult{}
	for i, fragmentID := range req.FragmentIDs {
		// Pin spans both the fetch and the run: a view handler notified
		// mid-execution can re-enter the plan cache for its own
		// create-query or min/max fallback fragment, and that nested
		// GetOrLoad must never evict the vector still running here.
		release := d.planCache.Pin(fragmentID)

		ev, err := d.planCache.GetOrLoad(fragmentID, d.top)
		if err != nil {
			release()
			result.Stats = append(result.Stats, FragmentStat{FragmentID: fragmentID, Succeeded: false})
			return d.fail(result, i, req.UndoToken, err, trace)
		}

		var params []table.Value
		if i < len(req.Params) {
			params = req.Params[i]
		}
		ctx := &exec.Context{Registry: d.registry, Params: params, Fallible: req.Fallible, Topend: d.top}

		start := time.Now()
		runErr := runFragment(ev, ctx)
		elapsed := time.Since(start)
		release()

		if runErr != nil {
			result.Stats = append(result.Stats, FragmentStat{FragmentID: fragmentID, ElapsedNS: elapsed.Nanoseconds(), Succeeded: false})
			return d.fail(result, i, req.UndoToken, runErr, trace)
		}

		result.Stats = append(result.Stats, FragmentStat{FragmentID: fragmentID, ElapsedNS: elapsed.Nanoseconds(), Succeeded: true})
		result.Results = append(result.Results, ctx.Results...)
		metrics.FragmentsExecuted.WithLabelValues("success").Inc()
	}

	d.log.Info("batch completed", "trace", trace, "fragments", len(req.FragmentIDs))
	return result, nil
}

func runFragment(ev *exec.ExecutorVector, ctx *exec.Context) error {
	for _, e := range ev.Executors {
		if err := e.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

// fail finalizes a failing batch: records the exception, clears any
// partial results (the result buffer is empty on an Error reply), and
// rewinds the open undo quantum unless the error is a fallible
// ConstraintViolation, in which case the host decides between Release
// and UndoUndoToken itself.
func (d *Dispatcher) fail(result *BatchResult, index int, undoToken int64, err error, trace string) (*BatchResult, error) {
	metrics.FragmentsExecuted.WithLabelValues("failure").Inc()
	metrics.BatchesFailed.Inc()

	result.Results = nil
	result.Exception = &ExceptionInfo{Err: err, FragmentIndex: index}

	if ee, ok := err.(*errors.EngineError); ok && ee.Kind() == errors.KindConstraintViolation && ee.Fallible() {
		d.log.Warn("fragment raised fallible constraint violation", "trace", trace, "index", index)
		return result, err
	}

	d.undoLog.Rewind(undoToken)
	metrics.UndoQuantaRewound.Inc()
	d.log.Error("batch aborted", "trace", trace, "index", index, "error", err)
	return result, err
}
