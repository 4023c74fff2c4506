// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
	"github.com/Fakorede/mobile-bench-sub000/internal/infra/process"
)

// runCleanup removes validation containers left behind by interrupted
// runs or by --keep-containers.
func runCleanup(cmd *cobra.Command, args []string) {
	logger := newLogger("cleanup")
	proc := process.NewDefaultManager()
	containers := container.NewDockerManager(proc, resolveDockerContext(), logger)

	result, err := containers.CleanupAll(context.Background(), keepPersistent)
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}

	if result.ContainersRemoved == 0 && result.VolumesRemoved == 0 {
		fmt.Println("No validation containers to remove.")
	} else {
		fmt.Printf("Removed %d container(s) and %d volume(s).\n",
			result.ContainersRemoved, result.VolumesRemoved)
	}
	for _, msg := range result.Errors {
		fmt.Printf("Warning: %s\n", msg)
	}
}
