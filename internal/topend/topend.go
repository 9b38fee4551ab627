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

// Package topend defines the host-side callback surface the engine uses
// mid-call: fetching a plan fragment's IR, retrieving an input dependency,
// handing off an export buffer, and invoking a user-defined function. All
// four are synchronous; the engine has no internal concurrency to overlap
// them with.
package topend

import (
	"flyengine/internal/errors"
	"flyengine/internal/exec"
)

// Topend is implemented by the coordinator-facing side of the command
// surface (internal/wire) in production, and by a reference Mock in
// tests.
type Topend interface {
	FetchPlan(fragmentID int64) (*exec.PlanIR, error)
	RetrieveDependency(depID int32) ([]byte, bool, error)
	HandoffExportBuffer(tableID int32, data []byte) error
	CallUserDefinedFunction(fnID int64, args []byte) ([]byte, error)
}

// Mock is a reference Topend backed by an in-memory plan table, for use
// in tests. It never talks to a real coordinator.
type Mock struct {
	Plans map[int64]*exec.PlanIR

	FetchPlanCalls int

	Dependencies map[int32][]byte
	UDFResults   map[int64][]byte
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{
		Plans:        make(map[int64]*exec.PlanIR),
		Dependencies: make(map[int32][]byte),
		UDFResults:   make(map[int64][]byte),
	}
}

// FetchPlan looks up a previously registered plan, counting the call so
// tests can assert the plan cache avoided a redundant fetch.
func (m *Mock) FetchPlan(fragmentID int64) (*exec.PlanIR, error) {
	m.FetchPlanCalls++
	ir, ok := m.Plans[fragmentID]
	if !ok {
		return nil, errors.PlanNotFound(fragmentID)
	}
	return ir, nil
}

// RetrieveDependency returns a registered dependency buffer, or
// found=false if none was registered (the DependencyNotFound case).
func (m *Mock) RetrieveDependency(depID int32) ([]byte, bool, error) {
	b, ok := m.Dependencies[depID]
	return b, ok, nil
}

// HandoffExportBuffer is a no-op in the mock; the export/CDC wire format
// lives outside this package.
func (m *Mock) HandoffExportBuffer(tableID int32, data []byte) error { return nil }

// CallUserDefinedFunction returns a registered result, or nil if none was
// registered.
func (m *Mock) CallUserDefinedFunction(fnID int64, args []byte) ([]byte, error) {
	return m.UDFResults[fnID], nil
}
