package pipeline

import (
	"log/slog"
	"time"
)

// Monitor provides hooks to observe a pipeline run.
// Implement this interface to track stage transitions and the final report.
type Monitor interface {
	Start(stages []string)
	StageStart(name string)
	StageSucceeded(name string, d time.Duration)
	StageFailed(name string, d time.Duration, err error)
	StageSkipped(name, blockedOn string)
	Finish(report *Report)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ []string)                               {}
func (n *noopMonitor) StageStart(_ string)                            {}
func (n *noopMonitor) StageSucceeded(_ string, _ time.Duration)       {}
func (n *noopMonitor) StageFailed(_ string, _ time.Duration, _ error) {}
func (n *noopMonitor) StageSkipped(_, _ string)                       {}
func (n *noopMonitor) Finish(_ *Report)                               {}

// LogMonitor logs stage transitions through slog.
type LogMonitor struct {
	logger *slog.Logger
}

var _ Monitor = (*LogMonitor)(nil)

// NewLogMonitor creates a Monitor that logs stage transitions.
// A nil logger falls back to slog.Default().
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{logger: logger}
}

func (m *LogMonitor) Start(stages []string) {
	m.logger.Info("run starting", "stages", stages)
}

func (m *LogMonitor) StageStart(name string) {
	m.logger.Debug("stage starting", "stage", name)
}

func (m *LogMonitor) StageSucceeded(name string, d time.Duration) {
	m.logger.Info("stage succeeded", "stage", name, "duration", d)
}

func (m *LogMonitor) StageFailed(name string, d time.Duration, err error) {
	m.logger.Error("stage failed", "stage", name, "duration", d, "err", err)
}

func (m *LogMonitor) StageSkipped(name, blockedOn string) {
	m.logger.Warn("stage skipped", "stage", name, "blocked_on", blockedOn)
}

func (m *LogMonitor) Finish(report *Report) {
	failed := 0
	for _, res := range report.Results {
		if res.Status == StatusFailed {
			failed++
		}
	}
	m.logger.Info("run finished",
		"stages", len(report.Results), "failed", failed, "duration", report.Duration)
}
