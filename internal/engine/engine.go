// Package engine runs the recurring discover, match, submit and record
// cycle and owns the process-wide run state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/inaiurai/bidengine/internal/ledger"
	"github.com/inaiurai/bidengine/internal/marketplace"
	"github.com/inaiurai/bidengine/internal/models"
	"github.com/inaiurai/bidengine/internal/notify"
	"github.com/inaiurai/bidengine/internal/services"
)

// TaskSource lists open marketplace tasks.
type TaskSource interface {
	FetchOpenTasks(ctx context.Context) ([]models.Task, error)
}

// Submitter delivers one submission for one task.
type Submitter interface {
	Submit(ctx context.Context, agent *models.AgentProfile, taskID, content string) (marketplace.SubmitResult, error)
}

// Ledger is the subset of the bid ledger a cycle needs.
type Ledger interface {
	services.AttemptLookup
	RecordAttempt(ctx context.Context, taskID, agent string, amount float64, outcome ledger.Outcome) (*models.BidRecord, error)
}

// Options tune a cycle. Zero values fall back to the defaults below.
type Options struct {
	Interval        time.Duration
	MaxBidsPerCycle int
	MinMatchScore   int
	SubmitDelay     time.Duration
	RequestTimeout  time.Duration
	IncludeFailed   bool
}

const (
	defaultInterval       = 5 * time.Minute
	defaultMaxBids        = 5
	defaultRequestTimeout = 15 * time.Second
	ledgerWriteAttempts   = 3
)

type Engine struct {
	source    TaskSource
	submitter Submitter
	matcher   *services.Matcher
	generator *services.Generator
	ledger    Ledger
	notifier  notify.Notifier
	log       *slog.Logger
	opts      Options

	mu      sync.RWMutex
	state   models.EngineState
	entryID cron.EntryID
	gen     uint64 // bumped by Start; results of older cycles are not stamped

	cycling atomic.Bool
	cron    *cron.Cron
	limiter *rate.Limiter
	wg      sync.WaitGroup

	now          func() time.Time
	retryBackoff time.Duration
}

func New(source TaskSource, submitter Submitter, matcher *services.Matcher, generator *services.Generator,
	l Ledger, notifier notify.Notifier, log *slog.Logger, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxBidsPerCycle <= 0 {
		opts.MaxBidsPerCycle = defaultMaxBids
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	limit := rate.Inf
	if opts.SubmitDelay > 0 {
		limit = rate.Every(opts.SubmitDelay)
	}
	cl := CronLogger(log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Start()
	return &Engine{
		source:       source,
		submitter:    submitter,
		matcher:      matcher,
		generator:    generator,
		ledger:       l,
		notifier:     notifier,
		log:          log,
		opts:         opts,
		cron:         c,
		limiter:      rate.NewLimiter(limit, 1),
		now:          time.Now,
		retryBackoff: 200 * time.Millisecond,
	}
}

// Start arms the recurring trigger and runs the first cycle in the
// background. It reports false when the engine was already running.
func (e *Engine) Start() bool {
	e.mu.Lock()
	if e.state.IsRunning {
		e.mu.Unlock()
		return false
	}
	now := e.now().UTC()
	e.state.IsRunning = true
	e.state.CycleCount = 0
	e.gen++
	e.state.StartedAt = &now
	e.entryID = e.cron.Schedule(cron.Every(e.opts.Interval), cron.FuncJob(e.tick))
	e.mu.Unlock()

	e.log.Info("engine started", "interval", e.opts.Interval.String(), "max_bids_per_cycle", e.opts.MaxBidsPerCycle)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.RunCycle(context.Background())
	}()
	return true
}

// Stop cancels future cycles and returns the final cycle count. An in-flight
// cycle runs to completion. It reports false when the engine was not running.
func (e *Engine) Stop() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.IsRunning {
		return e.state.CycleCount, false
	}
	e.cron.Remove(e.entryID)
	e.entryID = 0
	e.state.IsRunning = false
	e.log.Info("engine stopped", "cycle_count", e.state.CycleCount)
	return e.state.CycleCount, true
}

func (e *Engine) tick() {
	e.RunCycle(context.Background())
}

// RunCycle executes one pass unless another is already in flight, in which
// case it returns immediately with ran=false. Cancelling ctx does not abort
// a cycle that has begun.
func (e *Engine) RunCycle(ctx context.Context) (models.CycleSummary, bool) {
	if !e.cycling.CompareAndSwap(false, true) {
		e.log.Info("cycle skipped, previous cycle still running")
		return models.CycleSummary{Skipped: true, Results: []models.BidOutcome{}}, false
	}
	defer e.cycling.Store(false)

	e.mu.Lock()
	e.state.CycleCount++
	n := e.state.CycleCount
	gen := e.gen
	e.mu.Unlock()

	summary := e.runCycle(context.WithoutCancel(ctx), n)

	e.mu.Lock()
	if gen == e.gen {
		finished := summary.FinishedAt
		e.state.LastCycleAt = &finished
		e.state.LastResult = &summary
	} else {
		e.log.Info("engine restarted during cycle, result not recorded in status", "cycle", n)
	}
	e.mu.Unlock()
	return summary, true
}

// Status returns a consistent snapshot. It never waits on a running cycle.
func (e *Engine) Status() models.EngineStatus {
	e.mu.RLock()
	st := e.state
	id := e.entryID
	e.mu.RUnlock()

	out := models.EngineStatus{EngineState: st}
	if !st.IsRunning {
		return out
	}
	now := e.now()
	next := e.cron.Entry(id).Next
	if next.IsZero() {
		from := now
		if st.LastCycleAt != nil {
			from = *st.LastCycleAt
		} else if st.StartedAt != nil {
			from = *st.StartedAt
		}
		next = from.Add(e.opts.Interval)
	}
	if secs := math.Ceil(next.Sub(now).Seconds()); secs > 0 {
		out.SecondsUntilNextCycle = int64(secs)
	}
	return out
}

// Close stops the trigger and waits for in-flight cycles.
func (e *Engine) Close() {
	e.Stop()
	<-e.cron.Stop().Done()
	e.wg.Wait()
}

func (e *Engine) runCycle(ctx context.Context, n int64) models.CycleSummary {
	s := models.CycleSummary{Cycle: n, StartedAt: e.now().UTC(), Results: []models.BidOutcome{}}
	log := e.log.With("cycle", n)
	defer func() {
		s.FinishedAt = e.now().UTC()
		s.DurationMs = s.FinishedAt.Sub(s.StartedAt).Milliseconds()
		log.Info("cycle complete",
			"discovered", s.TasksDiscovered,
			"open", s.TasksOpen,
			"new", s.TasksNew,
			"submitted", s.Submitted,
			"succeeded", s.Succeeded,
			"failed", s.SubmissionsFailed,
			"ledger_errors", s.LedgerErrors,
			"duration_ms", s.DurationMs,
		)
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	tasks, err := e.source.FetchOpenTasks(fetchCtx)
	cancel()
	if err != nil {
		s.FetchError = err.Error()
		log.Warn("task fetch failed, treating as zero tasks", "error", err)
		return s
	}
	s.TasksDiscovered = len(tasks)
	for i := range tasks {
		if tasks[i].Eligible() {
			s.TasksOpen++
		}
	}

	candidates, err := e.matcher.SelectCandidates(ctx, tasks, e.ledger, e.opts.IncludeFailed)
	if err != nil {
		s.LedgerError = err.Error()
		log.Error("ledger read failed, skipping submissions", "error", err)
		return s
	}
	s.TasksNew = len(candidates)
	if len(candidates) > e.opts.MaxBidsPerCycle {
		candidates = candidates[:e.opts.MaxBidsPerCycle]
	}

	for i := range candidates {
		task := &candidates[i]
		s.CandidatesProcessed++
		s.Results = append(s.Results, e.bid(ctx, log, task, &s))
	}
	return s
}

// bid handles one candidate: assign, gate, generate, submit, record.
func (e *Engine) bid(ctx context.Context, log *slog.Logger, task *models.Task, s *models.CycleSummary) models.BidOutcome {
	match := e.matcher.Assign(task)
	out := models.BidOutcome{
		TaskID:   task.ID,
		Agent:    match.Role,
		Score:    match.Score,
		Category: match.Category,
		Reward:   task.Reward,
	}
	if match.Score < e.opts.MinMatchScore {
		s.BelowThreshold++
		out.Message = fmt.Sprintf("score %d below threshold %d", match.Score, e.opts.MinMatchScore)
		log.Debug("candidate below threshold", "task_id", task.ID, "agent", match.Role, "score", match.Score)
		return out
	}

	sub := e.generator.Generate(task, match.Agent)
	if err := e.limiter.Wait(ctx); err != nil {
		log.Warn("submit delay interrupted", "error", err)
	}

	subCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	res, err := e.submitter.Submit(subCtx, match.Agent, task.ID, sub.Content)
	cancel()
	s.Submitted++

	outcome := ledger.Outcome{OK: err == nil && res.OK, Message: res.Message}
	if err != nil {
		outcome.Message = err.Error()
	}
	if outcome.OK {
		s.Succeeded++
		log.Info("submission accepted", "task_id", task.ID, "agent", match.Role, "score", match.Score, "reward", task.Reward)
	} else {
		s.SubmissionsFailed++
		log.Warn("submission failed", "task_id", task.ID, "agent", match.Role, "error", outcome.Message)
	}
	out.Message = outcome.Message

	rec, err := e.record(ctx, task, match.Role, outcome)
	if err != nil {
		s.LedgerErrors++
		log.Error("ledger write failed", "alert", true, "task_id", task.ID, "agent", match.Role, "error", err)
		nerr := e.notifier.Send(ctx, notify.Notification{
			Title:   "Bid ledger write failed",
			Message: fmt.Sprintf("attempt for task %s by %s was not recorded: %v", task.ID, match.Role, err),
			Level:   notify.LevelError,
			Ref:     task.ID,
		})
		if nerr != nil {
			log.Warn("alert delivery failed", "error", nerr)
		}
		return out
	}
	out.Status = rec.Status
	return out
}

func (e *Engine) record(ctx context.Context, task *models.Task, agent string, outcome ledger.Outcome) (*models.BidRecord, error) {
	var err error
	for attempt := 1; attempt <= ledgerWriteAttempts; attempt++ {
		var rec *models.BidRecord
		rec, err = e.ledger.RecordAttempt(ctx, task.ID, agent, task.Reward, outcome)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ledger.ErrDuplicateActive) || attempt == ledgerWriteAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * e.retryBackoff):
		case <-ctx.Done():
			return nil, err
		}
	}
	return nil, err
}
