// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"runtime/debug"
)

// =============================================================================
// Result Types
// =============================================================================

// SafeGoResult captures the result of a safe goroutine execution.
//
// # Description
//
// Contains information about a panic that occurred in a goroutine,
// including the panic value and full stack trace for debugging.
//
// # Thread Safety
//
// SafeGoResult is immutable after creation and safe for concurrent reads.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue interface{}

	// Stack is the full stack trace at panic time.
	Stack string
}

// =============================================================================
// Goroutine Safety Functions
// =============================================================================

// SafeGo runs a function in a goroutine with panic recovery.
//
// # Description
//
// Wraps a function execution in a goroutine with deferred panic recovery.
// If the function panics, the panic is caught and passed to the onPanic
// callback instead of crashing the application. Used for background
// artifact writes where a panic should be logged but must not abort a
// multi-hour validation run.
//
// # Inputs
//
//   - fn: The function to execute in the goroutine
//   - onPanic: Callback invoked if fn panics (may be nil to silently recover)
//
// # Example
//
//	var wg sync.WaitGroup
//	wg.Add(1)
//	SafeGo(func() {
//	    defer wg.Done()
//	    writeCheckpoint(path, state)
//	}, func(r SafeGoResult) {
//	    defer wg.Done()
//	    log.Error("checkpoint write panicked", "panic", r.PanicValue)
//	})
//	wg.Wait()
//
// # Limitations
//
//   - onPanic is called synchronously in the recovered goroutine
//   - If onPanic itself panics, the application will crash
//
// # Assumptions
//
//   - fn is non-nil (will panic if nil)
func SafeGo(fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result := SafeGoResult{
					PanicValue: r,
					Stack:      string(debug.Stack()),
				}
				if onPanic != nil {
					onPanic(result)
				}
			}
		}()
		fn()
	}()
}
