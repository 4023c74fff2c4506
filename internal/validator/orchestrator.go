// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Fakorede/mobile-bench-sub000/internal/androidcfg"
	"github.com/Fakorede/mobile-bench-sub000/internal/container"
	"github.com/Fakorede/mobile-bench-sub000/internal/dataset"
	"github.com/Fakorede/mobile-bench-sub000/internal/gradle"
	"github.com/Fakorede/mobile-bench-sub000/internal/infra/process"
	"github.com/Fakorede/mobile-bench-sub000/internal/repo"
	"github.com/Fakorede/mobile-bench-sub000/internal/report"
	"github.com/Fakorede/mobile-bench-sub000/internal/stubrepair"
	"github.com/Fakorede/mobile-bench-sub000/internal/util"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// checkpointInterval is how many finished instances trigger a full
// checkpoint write.
const checkpointInterval = 10

// ErrNoInstances is returned when filtering leaves nothing to validate.
var ErrNoInstances = errors.New("no instances to validate")

// Options configures a validation run.
type Options struct {
	// OutputDir is where all run artifacts land. Required.
	OutputDir string

	// DockerContext selects a non-default Docker context.
	DockerContext string

	// KeepContainers leaves instance containers (and their workspaces)
	// in place after the run, for manual debugging.
	KeepContainers bool

	// ForceRestart discards previous progress instead of resuming.
	ForceRestart bool

	// Workers bounds concurrent instance validations. Default: 1.
	Workers int

	// OpenRouterAPIKey enables stub repair. Empty disables it.
	OpenRouterAPIKey string

	// StubModel overrides the repair engine's default model.
	StubModel string

	// IncludeIDs, ExcludeIDs, and MaxInstances narrow the dataset; see
	// dataset.FilterOptions.
	IncludeIDs   []string
	ExcludeIDs   []string
	MaxInstances int

	// PredictionsPath, when set, restricts the run to instances whose
	// prediction carries a non-empty patch.
	PredictionsPath string

	// Log overrides the default logger.
	Log *logging.Logger
}

// Orchestrator runs the instance pipeline over a dataset with a worker
// pool, resumable progress, and periodic checkpoints.
type Orchestrator struct {
	opts       Options
	pipeline   *Pipeline
	containers container.Manager
	store      *report.Store
	tracker    *report.Tracker
	metrics    *runMetrics
	log        *logging.Logger
}

// New wires up a production Orchestrator: host git via the process
// manager, Docker containers, the Gradle runner, and (when an API key
// is present) the stub-repair engine.
func New(opts Options) (*Orchestrator, error) {
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	store, err := report.NewStore(opts.OutputDir, log)
	if err != nil {
		return nil, err
	}

	proc := process.NewDefaultManager()
	containers := container.NewDockerManager(proc, opts.DockerContext, log)

	var repairer Repairer
	if opts.OpenRouterAPIKey != "" {
		repairer = stubrepair.NewEngine(containers, stubrepair.Options{
			APIKey:    opts.OpenRouterAPIKey,
			Model:     opts.StubModel,
			OutputDir: opts.OutputDir,
			Log:       log,
		})
	} else {
		log.Warn("No OpenRouter API key configured, stub repair disabled")
	}

	pipeline := NewPipeline(Deps{
		Cloner:     repo.NewCloner(proc, log),
		Resolver:   androidcfg.NewResolver(log),
		Containers: containers,
		Stager:     repo.NewStager(containers, log),
		Runner:     gradle.NewRunner(containers, log),
		Repairer:   repairer,
		Store:      store,
		Log:        log,
	})

	return &Orchestrator{
		opts:       opts,
		pipeline:   pipeline,
		containers: containers,
		store:      store,
		tracker:    report.NewTracker(store, log),
		metrics:    newRunMetrics(),
		log:        log,
	}, nil
}

// ValidateDataset validates every remaining instance of the dataset
// file and writes the final summary.
//
// # Description
//
// Instances already recorded as completed or failed by a previous run
// are skipped (their results are reconstructed from disk for the final
// summary), unless ForceRestart cleared the state. Remaining instances
// run through the pipeline on a bounded worker pool; each container is
// released as its instance finishes, and a full checkpoint is written
// every ten instances.
//
// # Outputs
//
//   - map of all results for the run, reconstructed ones included.
//   - error: dataset load failure, ErrNoInstances, or a container
//     runtime that is unreachable. Individual instance failures are
//     recorded, never returned.
func (o *Orchestrator) ValidateDataset(ctx context.Context, datasetPath string) (map[string]*report.InstanceResult, error) {
	runID := uuid.NewString()[:8]
	o.log.Info("Starting validation run", "run_id", runID,
		"dataset", datasetPath, "output_dir", o.opts.OutputDir)

	if o.opts.ForceRestart {
		o.log.Info("Force restart requested, clearing previous progress")
		o.tracker.ClearState()
	}

	instances, err := dataset.Load(datasetPath, o.log)
	if err != nil {
		return nil, err
	}

	if o.opts.PredictionsPath != "" {
		predictions, err := dataset.LoadPredictions(o.opts.PredictionsPath, o.log)
		if err != nil {
			return nil, err
		}
		instances = dataset.FilterByPredictions(instances, predictions, o.log)
	}

	selected := dataset.Filter(instances, dataset.FilterOptions{
		IncludeIDs:     o.opts.IncludeIDs,
		ExcludeIDs:     o.opts.ExcludeIDs,
		MaxInstances:   o.opts.MaxInstances,
		DatasetContext: datasetPath,
	}, o.log)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInstances, datasetPath)
	}

	results := o.loadExistingResults(selected)
	remaining := dataset.Filter(selected, dataset.FilterOptions{
		Completed: union(o.tracker.Completed, o.tracker.Failed),
	}, o.log)
	o.log.Info("Dataset ready",
		"total", len(selected), "remaining", len(remaining), "resumed", len(results))

	if len(remaining) > 0 {
		if _, err := o.containers.EnsureBaseImage(ctx); err != nil {
			return nil, fmt.Errorf("container runtime unavailable: %w", err)
		}
		o.runPool(ctx, remaining, results)
	}

	if err := o.tracker.WriteFinalSummary(results); err != nil {
		o.log.Error("Failed to write final summary", "error", err)
	}
	if err := o.metrics.Dump(filepath.Join(o.opts.OutputDir, MetricsFile)); err != nil {
		o.log.Warn("Failed to dump run metrics", "error", err)
	}

	if _, err := o.containers.CleanupAll(ctx, o.opts.KeepContainers); err != nil {
		o.log.Warn("Container cleanup reported errors", "error", err)
	}
	return results, nil
}

// runPool validates the remaining instances on a bounded worker pool.
// Result recording is serialized under a mutex; the tracker is not
// concurrency-safe.
func (o *Orchestrator) runPool(ctx context.Context, remaining []dataset.Instance,
	results map[string]*report.InstanceResult) {

	workers := o.opts.Workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	processed := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, inst := range remaining {
		inst := inst
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}

			result := o.validateSafely(gCtx, inst)
			o.releaseContainer(gCtx, inst.InstanceID)

			mu.Lock()
			defer mu.Unlock()
			o.recordResult(result, results)
			processed++
			if processed%checkpointInterval == 0 {
				o.tracker.SaveCheckpoint(results)
			}
			return nil
		})
	}

	// Workers never return errors; instance failures are recorded.
	_ = g.Wait()

	if ctx.Err() != nil {
		o.log.Warn("Validation interrupted, progress saved",
			"completed", len(o.tracker.Completed), "failed", len(o.tracker.Failed))
	}
}

// validateSafely runs the instance pipeline with panic capture. A
// panicking instance becomes a recorded failure instead of killing the
// whole worker pool and losing the run's progress.
func (o *Orchestrator) validateSafely(ctx context.Context, inst dataset.Instance) *report.InstanceResult {
	var result *report.InstanceResult
	var wg sync.WaitGroup
	wg.Add(1)

	util.SafeGo(func() {
		result = o.pipeline.ValidateInstance(ctx, inst)
		wg.Done()
	}, func(r util.SafeGoResult) {
		o.log.Error("Instance pipeline panicked",
			"instance_id", inst.InstanceID, "panic", r.PanicValue)
		result = &report.InstanceResult{
			InstanceID:   inst.InstanceID,
			ErrorMessage: fmt.Sprintf("pipeline panic: %v", r.PanicValue),
		}
		wg.Done()
	})

	wg.Wait()
	return result
}

func (o *Orchestrator) recordResult(result *report.InstanceResult,
	results map[string]*report.InstanceResult) {

	results[result.InstanceID] = result
	o.tracker.Record(result)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
		o.log.Error("Instance failed",
			"instance_id", result.InstanceID, "error", result.ErrorMessage)
	}
	o.metrics.instancesValidated.WithLabelValues(outcome).Inc()
	o.metrics.instanceDuration.Observe(result.TotalDuration)
	o.metrics.testsFixed.Add(float64(result.FailToPassCount))

	if err := o.store.SaveInstanceResult(result); err != nil {
		o.log.Warn("Failed to save instance result",
			"instance_id", result.InstanceID, "error", err)
	}
}

func (o *Orchestrator) releaseContainer(ctx context.Context, instanceID string) {
	err := o.containers.Release(ctx, instanceID, container.ReleaseOptions{
		KeepPersistent:   o.opts.KeepContainers,
		PreserveForDebug: o.opts.KeepContainers,
	})
	if err != nil {
		o.log.Warn("Failed to release container",
			"instance_id", instanceID, "error", err)
	}
}

// loadExistingResults reconstructs results for instances a previous run
// already completed, so the final summary covers the whole dataset.
func (o *Orchestrator) loadExistingResults(instances []dataset.Instance) map[string]*report.InstanceResult {
	results := make(map[string]*report.InstanceResult)
	for _, inst := range instances {
		if !o.tracker.Completed[inst.InstanceID] && !o.tracker.Failed[inst.InstanceID] {
			continue
		}
		result, err := o.store.ReconstructResult(inst.InstanceID)
		if err != nil {
			if !errors.Is(err, report.ErrNoAnalysis) {
				o.log.Warn("Could not reconstruct result",
					"instance_id", inst.InstanceID, "error", err)
			}
			continue
		}
		results[inst.InstanceID] = result
	}
	return results
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}
