package server

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/copyleftdev/latticeopt/internal/errors"
	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/problem"
)

// JobStatus is the lifecycle state of a solve job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrJobNotFound reports an unknown job ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished reports an attempt to cancel a finished job.
	ErrJobFinished = errors.New("job already finished")
	// ErrBusy reports that the server runs as many jobs as it may.
	ErrBusy = errors.New("too many running jobs")
)

// job tracks one submitted problem. Fields other than generations are
// guarded by Server.mu.
type job struct {
	id          string
	definition  problem.Definition
	status      JobStatus
	startTime   time.Time
	endTime     *time.Time
	lastUpdated time.Time
	outcome     *problem.Outcome
	minimum     *float64
	err         string
	cancel      context.CancelFunc
	done        chan struct{}

	generations atomic.Int64
}

// JobView is the externally visible state of a job.
type JobView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Status      JobStatus  `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`
	Generations int64      `json:"generations"`
	Cells       int        `json:"cells,omitempty"`
	Best        *BestView  `json:"best,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BestView is the global best of a completed job. Non-finite numbers are
// reported as null.
type BestView struct {
	Parameters   []float64  `json:"parameters"`
	Cost         *float64   `json:"cost"`
	Reason       string     `json:"reason"`
	Cell         []int      `json:"cell"`
	Iterations   int        `json:"iterations"`
	Evaluations  int        `json:"evaluations"`
	Feasible     bool       `json:"feasible"`
	Violations   []*float64 `json:"violations,omitempty"`
	KnownMinimum *float64   `json:"known_minimum,omitempty"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// view snapshots j. The caller holds Server.mu.
func (j *job) view() JobView {
	v := JobView{
		ID:          j.id,
		Name:        j.definition.Name,
		Status:      j.status,
		StartTime:   j.startTime,
		EndTime:     j.endTime,
		LastUpdated: j.lastUpdated,
		Generations: j.generations.Load(),
		Error:       j.err,
	}
	if j.outcome != nil {
		r := j.outcome.Best.Result
		best := &BestView{
			Parameters:   append([]float64(nil), r.Parameters...),
			Cost:         finite(r.Cost),
			Reason:       r.Reason.String(),
			Cell:         append([]int(nil), j.outcome.Best.Cell.Index...),
			Iterations:   r.Iterations,
			Evaluations:  r.Evaluations,
			Feasible:     j.outcome.Feasible,
			KnownMinimum: j.minimum,
		}
		for _, x := range j.outcome.Violation {
			best.Violations = append(best.Violations, finite(x))
		}
		v.Cells = j.outcome.Cells
		v.Best = best
	}
	return v
}

// Submit validates def, applies the configured defaults and starts solving
// it in the background.
func (s *Server) Submit(def problem.Definition) (JobView, error) {
	def.ApplyDefaults(s.cfg.Lattice)

	j := &job{
		id:         uuid.NewString(),
		definition: def,
		status:     StatusPending,
		done:       make(chan struct{}),
	}
	p, err := problem.Build(def, problem.Options{
		Logger:  s.solverLog.With(zapJobID(j.id)),
		Metrics: s.metrics,
		Monitor: optimization.MonitorFunc(func(int, []float64, float64) {
			j.generations.Add(1)
		}),
	})
	if err != nil {
		return JobView{}, err
	}
	j.definition = p.Definition
	j.minimum = p.Minimum

	select {
	case s.slots <- struct{}{}:
	default:
		return JobView{}, ErrBusy
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	now := time.Now()
	j.cancel = cancel
	j.startTime = now
	j.lastUpdated = now

	s.mu.Lock()
	s.evictFinished()
	s.jobs[j.id] = j
	view := j.view()
	s.mu.Unlock()

	s.logger.Info("Solve job submitted", map[string]interface{}{
		"job_id":   j.id,
		"name":     def.Name,
		"strategy": def.Strategy,
		"solver":   def.Solver,
	})

	s.wg.Add(1)
	go s.run(ctx, j, p)
	return view, nil
}

// run executes a job. A panic inside the solve fails the job instead of
// the process.
func (s *Server) run(ctx context.Context, j *job, p *problem.Problem) {
	defer s.wg.Done()
	defer close(j.done)
	defer func() { <-s.slots }()
	defer j.cancel()

	s.mu.Lock()
	if j.status == StatusPending {
		j.status = StatusRunning
		j.lastUpdated = time.Now()
	}
	s.mu.Unlock()
	s.metrics.JobStarted()

	var (
		out problem.Outcome
		err error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				perr := apperrors.Recovered(rec).WithComponent("server").WithOperation("solve")
				s.logger.Error("Recovered from panic in solve job", map[string]interface{}{
					"job_id": j.id,
					"error":  perr.Error(),
					"stack":  strings.Join(perr.StackTrace(), "\n"),
				})
				err = perr
			}
		}()
		out, err = p.Run(ctx)
	}()

	s.mu.Lock()
	now := time.Now()
	switch {
	case j.status == StatusCancelled:
	case err != nil && ctx.Err() != nil:
		j.status = StatusCancelled
		j.endTime = &now
	case err != nil:
		j.status = StatusFailed
		j.err = err.Error()
		j.endTime = &now
	default:
		j.status = StatusCompleted
		j.outcome = &out
		j.endTime = &now
	}
	j.lastUpdated = now
	status := j.status
	s.mu.Unlock()

	s.metrics.JobFinished(string(status))
	fields := map[string]interface{}{
		"job_id": j.id,
		"status": string(status),
	}
	if status == StatusFailed {
		werr := apperrors.Wrap(err, "solve job failed").WithComponent("server").WithOperation("solve")
		fields["error"] = werr.Error()
		fields["stack"] = strings.Join(werr.StackTrace(), "\n")
		s.logger.Error("Solve job failed", fields)
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if status == StatusCompleted {
		fields["cost"] = out.Best.Result.Cost
		fields["cells"] = out.Cells
	}
	s.logger.Info("Solve job finished", fields)
}

// evictFinished drops the oldest finished jobs beyond the configured
// retention. Zero keeps every job. The caller holds s.mu.
func (s *Server) evictFinished() {
	keep := s.cfg.Lattice.FinishedJobs
	if keep <= 0 {
		return
	}
	var finished []*job
	for _, j := range s.jobs {
		if j.status.Terminal() {
			finished = append(finished, j)
		}
	}
	if len(finished) <= keep {
		return
	}
	sort.Slice(finished, func(a, b int) bool {
		ea, eb := finished[a].lastUpdated, finished[b].lastUpdated
		if ea.Equal(eb) {
			return finished[a].id < finished[b].id
		}
		return ea.Before(eb)
	})
	for _, j := range finished[:len(finished)-keep] {
		delete(s.jobs, j.id)
		s.logger.Debug("Finished job evicted", map[string]interface{}{
			"job_id": j.id,
			"status": string(j.status),
		})
	}
}

// Status returns the current view of a job.
func (s *Server) Status(id string) (JobView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	return j.view(), nil
}

// Jobs lists every known job, oldest first.
func (s *Server) Jobs() []JobView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := make([]JobView, 0, len(s.jobs))
	for _, j := range s.jobs {
		views = append(views, j.view())
	}
	sortViews(views)
	return views
}

// Cancel stops a pending or running job.
func (s *Server) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.status.Terminal() {
		return ErrJobFinished
	}
	j.cancel()
	now := time.Now()
	j.status = StatusCancelled
	j.endTime = &now
	j.lastUpdated = now

	s.logger.Info("Solve job cancelled", map[string]interface{}{
		"job_id": id,
	})
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (s *Server) Wait(ctx context.Context, id string) (JobView, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return JobView{}, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return j.view(), nil
}
