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

package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"

	"flyengine/internal/errors"
	"flyengine/internal/exec"
)

// callbackKind discriminates the four host callbacks (fetch a plan,
// retrieve a dependency, hand off an export buffer, call a user
// function) over the single RetrieveDependency/HandoffReadyExportBuffer
// status pair the wire format defines. That pair only names the
// dependency sub-protocol on its own; multiplexing the other three
// callbacks through the same [status][kind][id][payload] shape follows
// how VoltDB's ipc connection carries several distinct host-callback
// kinds over one small status vocabulary.
type callbackKind int32

const (
	callbackDependency callbackKind = 0
	callbackPlan       callbackKind = 1
	callbackExport     callbackKind = 2
	callbackUserFunc   callbackKind = 3
)

// WireTopend implements topend.Topend by issuing out-of-band callback
// frames over the same connection the command loop runs on, and blocking
// for the host's reply before returning. One WireTopend guards its
// connection with a mutex since FetchPlan/RetrieveDependency/
// CallUserDefinedFunction can each be invoked mid-dispatch from the
// single engine goroutine driving that connection's Serve loop. There is
// never real contention; the lock exists to make that invariant explicit.
type WireTopend struct {
	mu sync.Mutex
	rw io.ReadWriter
}

// NewWireTopend wraps rw, the same connection wire.Serve is reading
// requests from, as a host callback channel.
func NewWireTopend(rw io.ReadWriter) *WireTopend {
	return &WireTopend{rw: rw}
}

func writeCallback(w io.Writer, status Status, kind callbackKind, id int64, payload []byte) error {
	body := make([]byte, 12+len(payload))
	binary.BigEndian.PutUint32(body[0:4], uint32(kind))
	binary.BigEndian.PutUint64(body[4:12], uint64(id))
	copy(body[12:], payload)
	return WriteReply(w, status, body)
}

func readCallbackReply(r io.Reader) (Status, []byte, error) {
	var statusByte [1]byte
	if _, err := io.ReadFull(r, statusByte[:]); err != nil {
		return 0, nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return Status(statusByte[0]), payload, nil
}

// FetchPlan asks the host for fragmentID's compiled IR, JSON-encoded.
// Plan compilation and its wire format live upstream of this engine, so
// this module picks the same encoding flydb/internal/sql.Catalog uses
// for its own schema metadata rather than a bespoke binary layout: a
// plan fetch is control-plane traffic, not a hot row-data path.
func (w *WireTopend) FetchPlan(fragmentID int64) (*exec.PlanIR, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeCallback(w.rw, StatusRetrieveDependency, callbackPlan, fragmentID, nil); err != nil {
		return nil, err
	}
	status, payload, err := readCallbackReply(w.rw)
	if err != nil {
		return nil, err
	}
	if status != StatusDependencyFound {
		return nil, errors.PlanNotFound(fragmentID)
	}

	var ir exec.PlanIR
	if err := json.Unmarshal(payload, &ir); err != nil {
		return nil, errors.Wrap(err, "wire: decoding plan IR")
	}
	return &ir, nil
}

// RetrieveDependency asks the host for a previously-produced result set.
func (w *WireTopend) RetrieveDependency(depID int32) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeCallback(w.rw, StatusRetrieveDependency, callbackDependency, int64(depID), nil); err != nil {
		return nil, false, err
	}
	status, payload, err := readCallbackReply(w.rw)
	if err != nil {
		return nil, false, err
	}
	return payload, status == StatusDependencyFound, nil
}

// HandoffExportBuffer streams one table's pending export rows to the
// host; the row format within data lives outside this package.
func (w *WireTopend) HandoffExportBuffer(tableID int32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeCallback(w.rw, StatusHandoffReadyExportBuffer, callbackExport, int64(tableID), data); err != nil {
		return err
	}
	_, _, err := readCallbackReply(w.rw)
	return err
}

// CallUserDefinedFunction invokes a host-resident scalar function,
// blocking for its result.
func (w *WireTopend) CallUserDefinedFunction(fnID int64, args []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeCallback(w.rw, StatusRetrieveDependency, callbackUserFunc, fnID, args); err != nil {
		return nil, err
	}
	status, payload, err := readCallbackReply(w.rw)
	if err != nil {
		return nil, err
	}
	if status != StatusDependencyFound {
		return nil, errors.UserFunctionError(fnID, int32(status))
	}
	return payload, nil
}
