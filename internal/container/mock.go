// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package container

import (
	"context"
	"sync"
)

// MockCall records one invocation on the MockManager.
type MockCall struct {
	// Method is the Manager method name.
	Method string

	// InstanceID is the instance argument, when the method takes one.
	InstanceID string

	// Command is the exec command, for Exec calls.
	Command string
}

// MockManager is a test double for Manager.
//
// Each method delegates to the corresponding function field and panics
// when the field is nil, so a test exercising an unexpected path fails
// loudly instead of silently succeeding. All calls are recorded.
type MockManager struct {
	EnsureBaseImageFunc func(ctx context.Context) (*ImageStatus, error)
	CreateFunc          func(ctx context.Context, opts CreateOptions) error
	StartFunc           func(ctx context.Context, instanceID string) error
	ExecFunc            func(ctx context.Context, instanceID string, opts ExecOptions) (*ExecResult, error)
	PrepareForTestsFunc func(ctx context.Context, instanceID string, opts PrepareOptions) error
	CopyInFunc          func(ctx context.Context, instanceID, hostPath, containerPath string) error
	StatusFunc          func(ctx context.Context, instanceID string) (string, error)
	LogsFunc            func(ctx context.Context, instanceID string) (string, error)
	ReleaseFunc         func(ctx context.Context, instanceID string, opts ReleaseOptions) error
	CleanupAllFunc      func(ctx context.Context, keepPersistent bool) (*CleanupResult, error)

	mu    sync.Mutex
	Calls []MockCall
}

var _ Manager = (*MockManager)(nil)

func (m *MockManager) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// CallsFor returns the recorded calls for one method.
func (m *MockManager) CallsFor(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockManager) EnsureBaseImage(ctx context.Context) (*ImageStatus, error) {
	m.record(MockCall{Method: "EnsureBaseImage"})
	if m.EnsureBaseImageFunc == nil {
		panic("MockManager.EnsureBaseImage called but EnsureBaseImageFunc is not set")
	}
	return m.EnsureBaseImageFunc(ctx)
}

func (m *MockManager) Create(ctx context.Context, opts CreateOptions) error {
	m.record(MockCall{Method: "Create", InstanceID: opts.InstanceID})
	if m.CreateFunc == nil {
		panic("MockManager.Create called but CreateFunc is not set")
	}
	return m.CreateFunc(ctx, opts)
}

func (m *MockManager) Start(ctx context.Context, instanceID string) error {
	m.record(MockCall{Method: "Start", InstanceID: instanceID})
	if m.StartFunc == nil {
		panic("MockManager.Start called but StartFunc is not set")
	}
	return m.StartFunc(ctx, instanceID)
}

func (m *MockManager) Exec(ctx context.Context, instanceID string, opts ExecOptions) (*ExecResult, error) {
	m.record(MockCall{Method: "Exec", InstanceID: instanceID, Command: opts.Command})
	if m.ExecFunc == nil {
		panic("MockManager.Exec called but ExecFunc is not set")
	}
	return m.ExecFunc(ctx, instanceID, opts)
}

func (m *MockManager) PrepareForTests(ctx context.Context, instanceID string, opts PrepareOptions) error {
	m.record(MockCall{Method: "PrepareForTests", InstanceID: instanceID})
	if m.PrepareForTestsFunc == nil {
		panic("MockManager.PrepareForTests called but PrepareForTestsFunc is not set")
	}
	return m.PrepareForTestsFunc(ctx, instanceID, opts)
}

func (m *MockManager) CopyIn(ctx context.Context, instanceID, hostPath, containerPath string) error {
	m.record(MockCall{Method: "CopyIn", InstanceID: instanceID})
	if m.CopyInFunc == nil {
		panic("MockManager.CopyIn called but CopyInFunc is not set")
	}
	return m.CopyInFunc(ctx, instanceID, hostPath, containerPath)
}

func (m *MockManager) Status(ctx context.Context, instanceID string) (string, error) {
	m.record(MockCall{Method: "Status", InstanceID: instanceID})
	if m.StatusFunc == nil {
		panic("MockManager.Status called but StatusFunc is not set")
	}
	return m.StatusFunc(ctx, instanceID)
}

func (m *MockManager) Logs(ctx context.Context, instanceID string) (string, error) {
	m.record(MockCall{Method: "Logs", InstanceID: instanceID})
	if m.LogsFunc == nil {
		panic("MockManager.Logs called but LogsFunc is not set")
	}
	return m.LogsFunc(ctx, instanceID)
}

func (m *MockManager) Release(ctx context.Context, instanceID string, opts ReleaseOptions) error {
	m.record(MockCall{Method: "Release", InstanceID: instanceID})
	if m.ReleaseFunc == nil {
		panic("MockManager.Release called but ReleaseFunc is not set")
	}
	return m.ReleaseFunc(ctx, instanceID, opts)
}

func (m *MockManager) CleanupAll(ctx context.Context, keepPersistent bool) (*CleanupResult, error) {
	m.record(MockCall{Method: "CleanupAll"})
	if m.CleanupAllFunc == nil {
		panic("MockManager.CleanupAll called but CleanupAllFunc is not set")
	}
	return m.CleanupAllFunc(ctx, keepPersistent)
}
