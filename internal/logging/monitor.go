package logging

import "sync/atomic"

// LogMonitor logs solver progress. It satisfies optimization.Monitor and is
// safe for concurrent use, so one instance can observe every cell of a
// parallel ensemble.
type LogMonitor struct {
	logger   *Logger
	interval int
	observed atomic.Int64
}

// NewLogMonitor returns a monitor that logs every interval-th generation
// at debug level. An interval below one logs every generation.
func NewLogMonitor(logger *Logger, interval int) *LogMonitor {
	if interval < 1 {
		interval = 1
	}
	return &LogMonitor{logger: logger, interval: interval}
}

// Observe logs the generation when it falls on the interval.
func (m *LogMonitor) Observe(iteration int, params []float64, cost float64) {
	m.observed.Add(1)
	if iteration%m.interval != 0 {
		return
	}
	m.logger.Debug("Generation", map[string]interface{}{
		"generation": iteration,
		"parameters": params,
		"cost":       cost,
	})
}

// Observed returns how many generations were reported so far.
func (m *LogMonitor) Observed() int64 {
	return m.observed.Load()
}
