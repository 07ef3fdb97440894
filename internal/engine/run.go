package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/escalation"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/ledger"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/resolver"
	"github.com/Iron-Ham/conductor/internal/safety"
	"github.com/Iron-Ham/conductor/internal/scheduler"
	"github.com/Iron-Ham/conductor/internal/step"
	"github.com/Iron-Ham/conductor/internal/worker"
)

// deadlineSlack pushes the wake-up just past a step deadline so the
// timeout rule sees the step as overdue.
const deadlineSlack = time.Millisecond

// stepCompletion is a worker call reported back to the coordinator.
type stepCompletion struct {
	stepID   string
	attempt  int
	result   worker.Result
	err      error
	timedOut bool
	elapsed  time.Duration
}

type inflight struct {
	attempt int
	cancel  context.CancelFunc
}

// run is the state of one Engine.Run call. Only the coordinator goroutine
// touches it, except for the completions channel.
type run struct {
	e     *Engine
	esc   *escalation.Controller
	log   *logging.Logger
	plan  *step.TaskPlan
	store *step.Store

	ctx         context.Context
	wg          conc.WaitGroup
	completions chan stepCompletion
	inflight    map[string]inflight

	// handoffs observed since the previous safety pass
	handoffs []safety.Handoff
	// follow-up steps rerouted by an escalation
	rerouted map[string]bool
	messages int
	started  time.Time
}

func newRun(e *Engine, plan *step.TaskPlan, ctrl *escalation.Controller) *run {
	r := &run{
		e:           e,
		esc:         ctrl,
		log:         e.logger.WithPlan(plan.ID),
		plan:        plan.Clone(),
		completions: make(chan stepCompletion),
		inflight:    make(map[string]inflight),
		rerouted:    make(map[string]bool),
		started:     e.now(),
	}
	steps := make([]step.ExecutionStep, len(plan.Steps))
	for i, s := range plan.Steps {
		steps[i] = r.prepare(s)
	}
	r.store = step.NewStore(steps)
	return r
}

// prepare fills retry and timeout defaults. A step left in_progress by an
// earlier run has no worker call behind it and goes back to pending.
func (r *run) prepare(s step.ExecutionStep) step.ExecutionStep {
	s = r.e.policy.Defaults(s)
	if s.Timeout == 0 {
		s.Timeout = r.e.cfg.Execution.DefaultTimeout
	}
	if s.Status == "" || s.Status == step.StatusInProgress {
		s.Status = step.StatusPending
	}
	return s
}

func (r *run) execute(parent context.Context) (*step.TaskPlan, error) {
	ctx, cancel := context.WithCancel(parent)
	r.ctx = ctx
	defer func() {
		cancel()
		r.wg.Wait()
	}()

	mode := r.e.cfg.Execution.SchedulerMode()
	r.log.Info("plan started", "task", r.plan.Task, "steps", r.store.Len(), "mode", string(mode))
	r.e.bus.Publish(event.NewPlanStartedEvent(r.plan.ID, r.plan.Task, r.store.Len(), string(mode)))
	r.checkpoint(r.store.Snapshot())

	for {
		if err := parent.Err(); err != nil {
			now := r.e.now()
			r.cancelActive("plan cancelled", now)
			return r.finish(now, fmt.Errorf("%w: %w", errors.ErrPlanCancelled, err))
		}

		now := r.e.now()
		report := r.validate(now)
		if report.Blocked() {
			r.abort("blocked by safety violation", now)
			return r.finish(now, report.Err())
		}

		r.progress(now)
		if r.done() {
			return r.finish(now, nil)
		}
		if r.esc.HumanRequired() {
			r.abort("human intervention required", now)
			return r.finish(now, errors.ErrHumanInterventionRequired)
		}

		r.assign(now)

		decision := scheduler.Plan(scheduler.Input{
			Steps:        r.store.Snapshot(),
			Mode:         mode,
			IsRegistered: r.e.registry.Has,
			PlanningRole: r.e.cfg.Execution.PlanningRole,
			Classifier:   r.e.classifier,
			MaxParallel:  r.e.cfg.Execution.MaxParallel,
			Now:          now,
		})
		for _, s := range decision.Stubbed {
			r.log.WithStep(s.ID).WithWorker(s.Worker).Info("step stub-completed", "reason", s.Attempts[len(s.Attempts)-1].Error)
		}
		r.apply(decision.Updates()...)
		for _, s := range decision.Dispatch {
			r.dispatch(s)
		}
		if !decision.Empty() {
			continue
		}

		if len(r.inflight) == 0 && decision.Waiting.IsZero() {
			r.stall(now)
			continue
		}
		r.wait(parent, decision.Waiting)
	}
}

// validate runs the safety pass and merges its corrections. Steps timed out
// by the pass have their worker call cancelled and go through the retry
// policy.
func (r *run) validate(now time.Time) safety.Report {
	report := r.e.validator.Validate(safety.Input{
		Steps:         r.store.Snapshot(),
		Collaboration: r.esc.State(),
		Handoffs:      r.handoffs,
		MessageCount:  r.messages,
		PlanningRole:  r.e.cfg.Execution.PlanningRole,
		Limits:        r.e.cfg.Safety,
		Now:           now,
	})
	r.handoffs = nil

	updates := report.Updates()
	if len(updates) == 0 {
		return report
	}
	r.apply(updates...)

	for _, s := range updates {
		if fl, ok := r.inflight[s.ID]; ok && s.Status != step.StatusInProgress {
			fl.cancel()
			delete(r.inflight, s.ID)
		}
		if s.Status == step.StatusTimedOut {
			r.retry(s, errors.NewTimeoutError(s.ID, s.Timeout, s.Elapsed(now)), now)
		}
	}
	return report
}

// assign routes every ready step that has no worker. Deferred and
// ambiguous tasks land on the planning role and are stubbed by the
// scheduling pass that follows.
func (r *run) assign(now time.Time) {
	var routed []step.ExecutionStep
	for _, s := range resolver.Ready(r.store.Snapshot()) {
		if s.Worker != "" || s.QueuedAt.After(now) {
			continue
		}
		res := r.e.Route(s.Task)
		s.Worker = res.Worker
		routed = append(routed, s)
		r.log.WithStep(s.ID).WithWorker(res.Worker).Info("step routed",
			"decision", string(res.Decision),
			"score", res.Score)
	}
	r.apply(routed...)
}

func (r *run) dispatch(s step.ExecutionStep) {
	log := r.log.WithStep(s.ID).WithWorker(s.Worker)

	w, err := r.e.registry.Get(s.Worker)
	if err != nil {
		// The scheduler only dispatches registered workers; a worker
		// unregistered since then fails the attempt.
		log.Error("dispatch failed", "error", err.Error())
		failed := s.Fail(err, r.e.now())
		r.apply(failed)
		r.retry(failed, err, r.e.now())
		return
	}

	stepCtx, cancel := context.WithCancel(r.ctx)
	if s.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(r.ctx, s.Timeout)
	}
	r.inflight[s.ID] = inflight{attempt: s.RetryCount, cancel: cancel}
	r.messages++
	log.Info("step dispatched", "attempt", s.RetryCount+1, "timeout", s.Timeout.String())

	r.wg.Go(func() {
		defer cancel()
		start := time.Now()

		var (
			res     worker.Result
			execErr error
			pc      panics.Catcher
		)
		pc.Try(func() { res, execErr = w.Execute(stepCtx, s) })
		if rec := pc.Recovered(); rec != nil {
			execErr = fmt.Errorf("worker panicked: %w", rec.AsError())
		}

		c := stepCompletion{
			stepID:   s.ID,
			attempt:  s.RetryCount,
			result:   res,
			err:      execErr,
			timedOut: execErr != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded),
			elapsed:  time.Since(start),
		}
		select {
		case r.completions <- c:
		case <-r.ctx.Done():
		}
	})
}

// wait blocks until a worker reports, the nearest step deadline or backoff
// wake-up passes, or parent is done.
func (r *run) wait(parent context.Context, waiting time.Time) {
	wake := waiting
	for id := range r.inflight {
		s, ok := r.store.Get(id)
		if !ok {
			continue
		}
		if deadline, ok := s.Deadline(); ok && (wake.IsZero() || deadline.Before(wake)) {
			wake = deadline
		}
	}

	var timeout <-chan time.Time
	if !wake.IsZero() {
		timer := time.NewTimer(wake.Sub(r.e.now()) + deadlineSlack)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case c := <-r.completions:
		r.complete(c, r.e.now())
	case <-timeout:
	case <-parent.Done():
	}
}

// complete merges a worker result. Results for an attempt that is no longer
// running (timed out, cancelled or superseded by a retry) are dropped.
func (r *run) complete(c stepCompletion, now time.Time) {
	log := r.log.WithStep(c.stepID)

	cur, ok := r.store.Get(c.stepID)
	fl, tracked := r.inflight[c.stepID]
	if !ok || !tracked || cur.Status != step.StatusInProgress || fl.attempt != c.attempt || cur.RetryCount != c.attempt {
		log.Debug("stale worker result dropped", "attempt", c.attempt+1)
		return
	}
	delete(r.inflight, c.stepID)
	fl.cancel()
	r.messages++

	log = log.WithWorker(cur.Worker)
	switch {
	case c.err == nil:
		done := cur.Complete(c.result.Output, now)
		r.apply(done)
		log.Info("step completed", "duration_ms", c.elapsed.Milliseconds())
		if r.rerouted[done.ID] && len(c.result.Handoffs) == 0 {
			r.e.resetEscalation(r.esc, fmt.Sprintf("rerouted step %s completed", done.ID))
		}
		delete(r.rerouted, done.ID)
		r.handoff(done, c.result, now)

	case c.timedOut:
		timedOut := cur.TimeOut(now)
		r.apply(timedOut)
		r.retry(timedOut, errors.NewTimeoutError(cur.ID, cur.Timeout, c.elapsed), now)

	default:
		cause := errors.NewWorkerExecutionError(cur.ID, cur.Worker, c.err)
		failed := cur.Fail(cause, now)
		r.apply(failed)
		r.retry(failed, cause, now)
	}
}

func (r *run) retry(s step.ExecutionStep, cause error, now time.Time) {
	log := r.log.WithStep(s.ID).WithWorker(s.Worker)

	d := r.e.policy.Apply(s, cause, now)
	if !d.Retry {
		log.Error("step ended unsuccessfully",
			"status", string(s.Status),
			"retries", s.RetryCount,
			"error", cause.Error())
		return
	}
	r.apply(d.Step)
	log.Warn("step requeued",
		"retry", d.Step.RetryCount,
		"max_retries", d.Step.MaxRetries,
		"delay", d.Delay.String(),
		"error", cause.Error())
}

// handoff appends one follow-up step per requested handoff and feeds the
// escalation controller. A handoff without a target is routed on its query;
// when routing defers, the follow-up is left unassigned for the next
// scheduling pass. When a handoff raises the level and the suggested worker
// is registered, the follow-up is rerouted to it.
func (r *run) handoff(origin step.ExecutionStep, res worker.Result, now time.Time) {
	for _, h := range res.Handoffs {
		to, query := h.To, h.Query
		if query == "" {
			query = origin.Task
		}
		assignee := to
		if to == "" {
			routed := r.e.Route(query)
			to = routed.Worker
			if !routed.Deferred() {
				assignee = to
			}
		}

		var rerouted bool
		t, escalated := r.esc.RecordHandoff(escalation.Handoff{
			From:     origin.Worker,
			To:       to,
			Query:    query,
			Quality:  res.Quality,
			Improved: res.Improved,
		})
		r.messages++
		r.e.bus.Publish(event.NewHandoffEvent(origin.Worker, to, query))

		if escalated {
			r.log.Warn("collaboration escalated",
				"level", t.Level.String(),
				"reason", t.Reason,
				"suggested_worker", t.SuggestedWorker)
			r.e.bus.Publish(event.NewEscalationEvent(t.Level.Value(), t.Level.String(), t.Reason,
				t.SuggestedWorker, t.SuggestedQuery, t.Timestamp))
			if t.SuggestedWorker != "" && r.e.registry.Has(t.SuggestedWorker) {
				to, assignee = t.SuggestedWorker, t.SuggestedWorker
				if t.SuggestedQuery != "" {
					query = t.SuggestedQuery
				}
				r.esc.AcknowledgeReplan()
				rerouted = true
			}
		}

		follow := r.prepare(step.New(newStepID(), assignee, query, origin.ID))
		follow.QueuedAt = now
		follow.HandoffFrom = origin.ID
		r.apply(follow)
		if rerouted {
			r.rerouted[follow.ID] = true
		}
		r.handoffs = append(r.handoffs, safety.Handoff{
			From:   origin.Worker,
			To:     to,
			Query:  query,
			StepID: follow.ID,
		})
		r.log.WithStep(follow.ID).Info("handoff step added", "from", origin.Worker, "to", to)
	}
}

// apply merges updates into the store, publishing a transition event for
// every status change and checkpointing the updated steps.
func (r *run) apply(updates ...step.ExecutionStep) {
	if len(updates) == 0 {
		return
	}

	prev := make(map[string]step.Status, len(updates))
	for _, u := range updates {
		if s, ok := r.store.Get(u.ID); ok {
			prev[u.ID] = s.Status
		}
	}
	r.store.Apply(updates...)

	for _, u := range updates {
		from := prev[u.ID]
		if from == u.Status {
			continue
		}
		prev[u.ID] = u.Status
		r.e.bus.Publish(event.NewStepTransitionEvent(r.plan.ID, u.ID, u.Worker,
			string(from), string(u.Status), transitionReason(u)))
	}
	r.checkpoint(updates)
}

func transitionReason(s step.ExecutionStep) string {
	if len(s.Attempts) == 0 {
		return ""
	}
	last := s.Attempts[len(s.Attempts)-1]
	if last.Error != "" {
		return last.Error
	}
	return string(last.Outcome)
}

func (r *run) checkpoint(steps []step.ExecutionStep) {
	if r.e.checkpoint == nil || len(steps) == 0 {
		return
	}
	if err := r.e.checkpoint.SaveSteps(context.WithoutCancel(r.ctx), r.plan.ID, steps); err != nil {
		r.log.Warn("checkpoint failed", "error", err.Error(), "steps", len(steps))
	}
}

// progress recomputes the ledger snapshot and publishes it.
func (r *run) progress(now time.Time) ledger.Snapshot {
	plan := r.snapshot(now)
	snap := ledger.Compute(plan, now, r.e.cfg.Ledger)
	r.plan.ProgressSummary = ledger.Summary(snap)

	if len(snap.Bottlenecks) > 0 {
		r.log.WithPhase(string(snap.Phase)).Debug("bottlenecks detected", "steps", snap.BottleneckIDs())
	}
	r.e.bus.Publish(event.NewProgressEvent(r.plan.ID, string(snap.Phase), snap.Percent,
		snap.CountsByName(), snap.BottleneckIDs()))
	return snap
}

func (r *run) snapshot(now time.Time) *step.TaskPlan {
	plan := r.plan.Clone()
	plan.Steps = r.store.Snapshot()
	plan.UpdatedAt = now
	return plan
}

func (r *run) done() bool {
	for _, s := range r.store.Snapshot() {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// stall blocks pending steps when nothing is running, nothing is waiting
// for backoff and the scheduler found nothing to do.
func (r *run) stall(now time.Time) {
	var blocked []step.ExecutionStep
	for _, s := range r.store.Snapshot() {
		if s.Status.IsActive() {
			blocked = append(blocked, s.Block("no runnable path", now))
		}
	}
	if len(blocked) > 0 {
		r.log.Warn("plan stalled", "blocked", len(blocked))
	}
	r.apply(blocked...)
}

// abort cancels running steps and leaves pending ones untouched.
func (r *run) abort(reason string, now time.Time) {
	var cancelled []step.ExecutionStep
	for _, s := range r.store.Snapshot() {
		if s.Status == step.StatusInProgress {
			cancelled = append(cancelled, s.Cancel(reason, now))
		}
	}
	r.stopInflight()
	r.apply(cancelled...)
}

// cancelActive cancels every pending and running step.
func (r *run) cancelActive(reason string, now time.Time) {
	var cancelled []step.ExecutionStep
	for _, s := range r.store.Snapshot() {
		if s.Status.IsActive() {
			cancelled = append(cancelled, s.Cancel(reason, now))
		}
	}
	r.stopInflight()
	r.apply(cancelled...)
}

func (r *run) stopInflight() {
	for id, fl := range r.inflight {
		fl.cancel()
		delete(r.inflight, id)
	}
}

func (r *run) finish(now time.Time, err error) (*step.TaskPlan, error) {
	plan := r.snapshot(now)
	plan.ActualDuration = now.Sub(r.started)
	snap := ledger.Compute(plan, now, r.e.cfg.Ledger)
	plan.ProgressSummary = ledger.Summary(snap)

	log := r.log.WithPhase(string(snap.Phase))
	if err != nil {
		log.Error("plan stopped", "error", err.Error(), "summary", plan.ProgressSummary)
	} else {
		log.Info("plan finished", "summary", plan.ProgressSummary, "duration", plan.ActualDuration.String())
	}
	r.e.bus.Publish(event.NewPlanFinishedEvent(plan.ID, string(snap.Phase), err))

	if err == nil && snap.Phase == ledger.PhaseComplete && r.e.memory != nil {
		if recErr := r.e.memory.Record(context.WithoutCancel(r.ctx), plan); recErr != nil {
			log.Warn("memory record failed", "error", recErr.Error())
		}
	}
	return plan, err
}

func newStepID() string {
	return "handoff-" + strings.ToLower(ulid.Make().String())
}
