package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the terminal state of a stage after a run.
type Status int

const (
	// StatusSucceeded means the stage ran and returned no error.
	StatusSucceeded Status = iota

	// StatusFailed means the stage ran and returned an error, or the
	// context was canceled before it could start.
	StatusFailed

	// StatusSkipped means the stage did not run because a dependency did
	// not succeed.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outputs holds the values produced by completed stages, keyed by stage name.
type Outputs map[string]any

// StageFunc is the work one stage performs. It receives the outputs of every
// stage that succeeded before it; its own return value is published to
// downstream stages under the stage's name.
type StageFunc func(ctx context.Context, outs Outputs) (any, error)

// Stage is one unit of pipeline work. Deps name the stages whose success this
// stage requires.
type Stage struct {
	Name string
	Deps []string
	Run  StageFunc
}

// StageResult records how one stage ended.
type StageResult struct {
	Name      string
	Status    Status
	Err       error  // set when Status is StatusFailed
	BlockedOn string // set when Status is StatusSkipped
	Duration  time.Duration
}

// Report summarizes one graph run.
type Report struct {
	Results  []StageResult
	Duration time.Duration
}

// Err returns the joined errors of all failed stages, or nil when no stage
// failed.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("stage %s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Result returns the result recorded for the named stage.
func (r *Report) Result(name string) (StageResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return StageResult{}, false
}

// Graph is an ordered set of stages with dependencies.
//
// Registration order is execution order. A stage's dependencies must already
// be registered when it is added, so the order is always a valid topological
// one and cycles cannot be expressed.
type Graph struct {
	stages []Stage
	known  map[string]struct{}
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{known: make(map[string]struct{})}
}

// Add registers a stage. Its dependencies must name stages registered
// earlier.
func (g *Graph) Add(s Stage) error {
	if s.Name == "" {
		return ErrStageNameRequired
	}
	if s.Run == nil {
		return fmt.Errorf("stage %s: %w", s.Name, ErrStageRunRequired)
	}
	if _, ok := g.known[s.Name]; ok {
		return fmt.Errorf("stage %s: %w", s.Name, ErrStageExists)
	}
	for _, dep := range s.Deps {
		if _, ok := g.known[dep]; !ok {
			return fmt.Errorf("stage %s: %w: %s", s.Name, ErrUnknownDependency, dep)
		}
	}

	g.known[s.Name] = struct{}{}
	g.stages = append(g.stages, s)
	return nil
}

// Run executes the stages in registration order.
//
// A failed stage does not abort the run: stages independent of it still
// execute, while stages downstream of the failure are skipped with the
// blocking dependency recorded. Context cancellation fails every stage that
// has not started yet.
func (g *Graph) Run(ctx context.Context, monitor Monitor) *Report {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	names := make([]string, len(g.stages))
	for i, s := range g.stages {
		names[i] = s.Name
	}
	monitor.Start(names)

	start := time.Now()
	outs := make(Outputs, len(g.stages))
	results := make([]StageResult, 0, len(g.stages))
	state := make(map[string]Status, len(g.stages))

	for _, s := range g.stages {
		if dep, blocked := blockingDep(s, state); blocked {
			results = append(results, StageResult{Name: s.Name, Status: StatusSkipped, BlockedOn: dep})
			state[s.Name] = StatusSkipped
			monitor.StageSkipped(s.Name, dep)
			continue
		}

		if err := ctx.Err(); err != nil {
			results = append(results, StageResult{Name: s.Name, Status: StatusFailed, Err: err})
			state[s.Name] = StatusFailed
			monitor.StageFailed(s.Name, 0, err)
			continue
		}

		monitor.StageStart(s.Name)
		stageStart := time.Now()
		out, err := s.Run(ctx, outs)
		elapsed := time.Since(stageStart)

		if err != nil {
			results = append(results, StageResult{Name: s.Name, Status: StatusFailed, Err: err, Duration: elapsed})
			state[s.Name] = StatusFailed
			monitor.StageFailed(s.Name, elapsed, err)
			continue
		}

		outs[s.Name] = out
		results = append(results, StageResult{Name: s.Name, Status: StatusSucceeded, Duration: elapsed})
		state[s.Name] = StatusSucceeded
		monitor.StageSucceeded(s.Name, elapsed)
	}

	report := &Report{Results: results, Duration: time.Since(start)}
	monitor.Finish(report)
	return report
}

// blockingDep returns the first dependency of s that did not succeed.
func blockingDep(s Stage, state map[string]Status) (string, bool) {
	for _, dep := range s.Deps {
		if st, ok := state[dep]; !ok || st != StatusSucceeded {
			return dep, true
		}
	}
	return "", false
}
