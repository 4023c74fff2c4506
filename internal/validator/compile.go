// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validator

import "strings"

// compilationErrorIndicators flag compiler diagnostics in build output.
// Broader than the build runner's own failure signatures: Gradle with
// --continue can report a successful build while individual compile
// tasks failed, and any of these in the output means stub repair should
// still run.
var compilationErrorIndicators = []string{
	"cannot find symbol",
	"package does not exist",
	"class not found",
	"method not found",
	"variable not found",
	"compilation failed",
	"could not compile",
	"error: cannot access",
	"error: package",
	"error: class",
	"error: method",
	"error: variable",
	"unresolved reference",
	"unresolved import",
	"undefined symbol",
	"no suitable method found",
	"incompatible types",
	"method does not override",
	"abstract method",
	"missing return statement",
}

// HasCompilationErrors reports whether build output contains compiler
// diagnostics, regardless of the build's claimed success.
func HasCompilationErrors(buildOutput string) bool {
	if buildOutput == "" {
		return false
	}
	lower := strings.ToLower(buildOutput)
	for _, indicator := range compilationErrorIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
