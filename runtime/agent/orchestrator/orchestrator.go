// Package orchestrator implements the Run Orchestrator (C13): the entry
// point that composes the state machine, scheduler, planner, router,
// executor, failure observer, checkpoint store, working memory, reminder
// engine and event emitter into a single run_stream(goal) driver, grounded
// directly on PlanningAgentEngine.run_stream/_execute_task
// (backend/app/agent/planning_engine.py) — the reference control flow for
// "TaskScheduler controls flow, the LLM only decides how to complete each
// atomic task."
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"goatomic.dev/runtime/runtime/agent/checkpoint"
	"goatomic.dev/runtime/runtime/agent/config"
	"goatomic.dev/runtime/runtime/agent/engine"
	"goatomic.dev/runtime/runtime/agent/executor"
	"goatomic.dev/runtime/runtime/agent/failure"
	"goatomic.dev/runtime/runtime/agent/interrupt"
	"goatomic.dev/runtime/runtime/agent/memory"
	"goatomic.dev/runtime/runtime/agent/plan"
	"goatomic.dev/runtime/runtime/agent/planner"
	"goatomic.dev/runtime/runtime/agent/reminder"
	"goatomic.dev/runtime/runtime/agent/router"
	"goatomic.dev/runtime/runtime/agent/scheduler"
	"goatomic.dev/runtime/runtime/agent/statemachine"
	"goatomic.dev/runtime/runtime/agent/stream"
	"goatomic.dev/runtime/runtime/agent/tools"
	"goatomic.dev/runtime/runtime/agent/transcript"
)

// Orchestrator composes every runtime component into a single driver for
// one session's run.
type Orchestrator struct {
	SessionID   string
	WorkspaceID string

	Machine     *statemachine.Machine
	Scheduler   *scheduler.Scheduler
	Planner     *planner.Planner
	Router      *router.Router
	Executor    *executor.Executor
	Failures    *failure.Observer
	Checkpoints checkpoint.Store
	Memory      *memory.WorkingMemory
	Reminders   *reminder.Engine
	Transcript  *transcript.Ledger
	Emitter     *stream.Emitter
	Engine      engine.Engine
	Config      config.Config

	iteration int
}

// New wires a fresh Orchestrator for one session's run. Checkpoints and
// Engine may be nil, in which case checkpointing and the confirmation gate
// are disabled. New validates the state machine's transition table before
// constructing anything else and returns an error instead of an Orchestrator
// if the table is malformed, so a misconfigured runtime fails at startup
// rather than getting stuck mid-run on an unreachable or dead-end state.
func New(sessionID, workspaceID string, exec *executor.Executor, pl *planner.Planner,
	sched *scheduler.Scheduler, rt *router.Router, obs *failure.Observer,
	wm *memory.WorkingMemory, rem *reminder.Engine, emitter *stream.Emitter,
	eng engine.Engine, store checkpoint.Store, cfg config.Config) (*Orchestrator, error) {
	if err := statemachine.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		SessionID: sessionID, WorkspaceID: workspaceID,
		Machine: statemachine.New(), Scheduler: sched, Planner: pl, Router: rt,
		Executor: exec, Failures: obs, Memory: wm, Reminders: rem,
		Transcript: transcript.New(), Emitter: emitter, Engine: eng,
		Checkpoints: store, Config: cfg,
	}
	if eng != nil {
		gate := interrupt.NewGate(eng, sessionID)
		o.Executor.Confirm = o.confirm(gate)
	}
	o.Executor.OnToolInvoked = o.onToolInvoked
	return o, nil
}

// Run drives goal to completion, failure, timeout, or cancellation,
// streaming every event through o.Emitter (spec.md §4.9's run_stream).
// The returned error is non-nil only for a fatal orchestration defect (a
// statemachine or scheduler contract violation); ordinary task failures are
// resolved into a "done" event with the appropriate status instead.
func (o *Orchestrator) Run(ctx context.Context, goal string) error {
	o.Transcript.AppendUser(goal)

	if _, err := o.Machine.Transition(statemachine.SigUserMessageReceived, nil); err != nil {
		return err
	}
	_ = o.Emitter.Status(ctx, "parsing_intent", "parsing user intent")
	if _, err := o.Machine.Transition(statemachine.SigIntentClear, nil); err != nil {
		return err
	}

	_ = o.Emitter.Status(ctx, "planning", "decomposing goal into a task plan")
	pl, err := o.Planner.Plan(ctx, goal)
	if err != nil {
		_, _ = o.Machine.Transition(statemachine.SigPlanFailed, nil)
		_, _ = o.Machine.Transition(statemachine.SigMaxRetriesReached, nil)
		_ = o.Emitter.Error(ctx, err.Error())
		return o.finish(ctx, stream.DoneFailed)
	}
	if err := o.Scheduler.Load(pl); err != nil {
		_, _ = o.Machine.Transition(statemachine.SigPlanFailed, nil)
		_, _ = o.Machine.Transition(statemachine.SigMaxRetriesReached, nil)
		_ = o.Emitter.Error(ctx, err.Error())
		return o.finish(ctx, stream.DoneFailed)
	}
	_, _ = o.Machine.Transition(statemachine.SigPlanCreated, nil)
	_ = o.Emitter.PlanCreated(ctx, pl)
	if o.Memory != nil {
		_ = o.Memory.UpdateTaskPlan(pl.Checklist(), false)
	}

	maxIter := o.Config.MaxIterationsPerRun
	if maxIter <= 0 {
		maxIter = config.Default().MaxIterationsPerRun
	}

	execCtx := &executor.Context{SessionID: o.SessionID, WorkspaceID: o.WorkspaceID, KV: map[string]any{}}

	for !o.Scheduler.IsComplete() {
		o.iteration++
		o.Emitter.SetIteration(o.iteration)

		if o.iteration > maxIter {
			_, _ = o.Machine.Transition(statemachine.SigMaxIterationsReached, nil)
			return o.finish(ctx, stream.DoneIncomplete)
		}

		ready := o.Scheduler.Ready()
		if len(ready) == 0 {
			if o.Scheduler.IsBlocked() {
				_ = o.Emitter.Error(ctx, "plan is blocked: no ready task and no task in progress")
				_, _ = o.Machine.Transition(statemachine.SigTaskFailed, nil)
				_, _ = o.Machine.Transition(statemachine.SigMaxRetriesReached, nil)
				return o.finish(ctx, stream.DoneIncomplete)
			}
			continue
		}
		task := ready[0]

		if err := o.Scheduler.Start(task.ID); err != nil {
			return err
		}
		_ = o.Emitter.TaskStart(ctx, task.ID, task.Title, string(plan.StatusInProgress))

		decision := o.Router.Route(ctx, task.Title+" "+task.Description)
		_ = o.Emitter.ReasoningDecision(ctx, "route:"+string(decision.Path), decision.Reason)

		recitation := o.Scheduler.Plan().Checklist()
		execCtx.Messages = nil
		result, err := o.Executor.Execute(ctx, task, execCtx, recitation)
		if err != nil {
			return err
		}

		if err := o.handleTaskResult(ctx, task, result); err != nil {
			return err
		}
		if o.Machine.IsTerminal() {
			return o.finish(ctx, doneStatusFor(o.Machine.State()))
		}

		if o.Checkpoints != nil && o.checkpointPolicy().ShouldSave(o.iteration) {
			o.saveCheckpoint(ctx)
		}
		_ = o.Emitter.ProgressUpdate(ctx, progressToMap(o.Scheduler.Progress()))
	}

	_, _ = o.Machine.Transition(statemachine.SigTaskComplete, nil)
	return o.finish(ctx, stream.DoneSuccess)
}

// handleTaskResult applies the Task Executor's outcome to the Scheduler and
// State Machine, replanning or aborting as the retry policy dictates
// (spec.md §4.3's Decision and §4.9 step 3-4).
func (o *Orchestrator) handleTaskResult(ctx context.Context, t *plan.Task, result *executor.Result) error {
	switch result.Status {
	case executor.StatusSuccess:
		if err := o.Scheduler.Complete(t.ID, result.Output); err != nil {
			return err
		}
		_ = o.Emitter.TaskComplete(ctx, t.ID, t.Title, string(plan.StatusCompleted))
		if o.Memory != nil {
			_ = o.Memory.UpdateProgress(fmt.Sprintf("Task %s (%s) completed: %s", t.ID, t.Title, preview(result.Output)), false)
		}
		return nil

	default:
		errMsg := "task did not complete"
		if result.Error != nil {
			errMsg = result.Error.Error()
		}
		decision, err := o.Scheduler.Fail(t.ID, errMsg)
		if err != nil {
			return err
		}
		_ = o.Emitter.TaskFailed(ctx, t.ID, t.Title, string(plan.StatusFailed))
		if o.Failures != nil && result.Error != nil {
			o.Failures.Record(result.Error.Kind, errMsg, t.ID, t.RetryCount)
			if o.Failures.ShouldStrike(result.Error.Kind) {
				if o.Reminders != nil {
					o.Reminders.InjectStrikeProtocol(o.SessionID, string(result.Error.Kind))
				}
				_ = o.Emitter.ReasoningDecision(ctx, "strike_protocol", "three occurrences of "+string(result.Error.Kind)+"; forcing reflect/replan")
				if decision == scheduler.DecisionRetry {
					decision = scheduler.DecisionReplan
				}
			}
		}
		return o.applyFailureDecision(ctx, t, decision, errMsg)
	}
}

func (o *Orchestrator) applyFailureDecision(ctx context.Context, t *plan.Task, decision scheduler.Decision, errMsg string) error {
	switch decision {
	case scheduler.DecisionRetry:
		// Task was reset to pending by the scheduler; loop picks it back up.
		return nil
	case scheduler.DecisionReplan:
		if _, err := o.Machine.Transition(statemachine.SigTaskFailed, nil); err != nil {
			return err
		}
		if _, err := o.Machine.Transition(statemachine.SigCanRetry, nil); err != nil {
			return err
		}
		findings := ""
		if o.Memory != nil {
			if doc, err := o.Memory.ReadFindings(); err == nil {
				findings = doc.Content
			}
		}
		newPlan, err := o.Planner.Replan(ctx, planner.RepairContext{
			PriorPlan: o.Scheduler.Plan(), FailedTask: t.ID, Error: errMsg, Findings: findings,
		})
		if err != nil {
			_, _ = o.Machine.Transition(statemachine.SigCannotReplan, nil)
			_ = o.Emitter.Error(ctx, "replan failed: "+err.Error())
			return nil
		}
		if err := o.Scheduler.ReplacePlan(newPlan); err != nil {
			_, _ = o.Machine.Transition(statemachine.SigCannotReplan, nil)
			return nil
		}
		_, _ = o.Machine.Transition(statemachine.SigNewPlanCreated, nil)
		_ = o.Emitter.PlanRevised(ctx, newPlan, errMsg)
		if o.Memory != nil {
			_ = o.Memory.UpdateTaskPlan(newPlan.Checklist(), false)
		}
		return nil
	default: // DecisionAbort
		if _, err := o.Machine.Transition(statemachine.SigTaskFailed, nil); err != nil {
			return err
		}
		_, err := o.Machine.Transition(statemachine.SigMaxRetriesReached, nil)
		return err
	}
}

// confirm adapts an interrupt.Gate into an executor.ConfirmFunc, driving
// the state machine through waiting_confirm around the blocking wait
// (spec.md §4.4's Confirmation gate). An approved confirmation folds the
// gated tool call back into reasoning via the same tool_success/continue
// path a normal tool call would take; a rejection returns straight to
// reasoning; a timeout ends the run, matching the transition table.
func (o *Orchestrator) confirm(gate *interrupt.Gate) executor.ConfirmFunc {
	return func(ctx context.Context, requestID string, toolID tools.Ident, payload json.RawMessage) (interrupt.Decision, error) {
		if _, err := o.Machine.Transition(statemachine.SigNeedConfirm, map[string]any{"request_id": requestID}); err != nil {
			return "", err
		}
		timeout := o.Config.ConfirmationTimeout
		if timeout <= 0 {
			timeout = config.Default().ConfirmationTimeout
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		decision, err := gate.Await(waitCtx, requestID)
		if err != nil {
			return "", err
		}
		switch decision {
		case interrupt.DecisionApproved:
			_, _ = o.Machine.Transition(statemachine.SigUserConfirmed, nil)
			_, _ = o.Machine.Transition(statemachine.SigToolSuccess, nil)
			_, _ = o.Machine.Transition(statemachine.SigContinue, nil)
		case interrupt.DecisionRejected:
			_, _ = o.Machine.Transition(statemachine.SigUserRejected, nil)
		case interrupt.DecisionTimeout:
			_, _ = o.Machine.Transition(statemachine.SigTimeoutReached, nil)
		}
		return decision, nil
	}
}

// onToolInvoked drives the 2-Action Rule counter (spec.md §4.6): every two
// information-acquisition tool calls without an intervening findings
// append force a reminder into the next task prompt. RecordAction is given
// the tool's bare name, the last segment of its qualified identifier.
func (o *Orchestrator) onToolInvoked(id tools.Ident) {
	if o.Memory == nil || o.Reminders == nil {
		return
	}
	name := string(id)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if o.Memory.RecordAction(name) {
		o.Reminders.InjectActionRule(o.SessionID)
	}
}

func (o *Orchestrator) checkpointPolicy() checkpoint.Policy {
	p := checkpoint.DefaultPolicy()
	if o.Config.CheckpointInterval > 0 {
		p.SaveInterval = o.Config.CheckpointInterval
	}
	if o.Config.MaxCheckpoints > 0 {
		p.MaxCheckpoints = o.Config.MaxCheckpoints
	}
	return p
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context) {
	var taskPlan, findings, progress string
	if o.Memory != nil {
		if doc, err := o.Memory.ReadTaskPlan(); err == nil {
			taskPlan = doc.Content
		}
		if doc, err := o.Memory.ReadFindings(); err == nil {
			findings = doc.Content
		}
		if doc, err := o.Memory.ReadProgress(); err == nil {
			progress = doc.Content
		}
	}
	var failureHistory []map[string]any
	if o.Failures != nil {
		for _, r := range o.Failures.All() {
			failureHistory = append(failureHistory, map[string]any{
				"kind": string(r.Kind), "message": r.Message, "tool": r.Tool, "is_failure": true,
			})
		}
	}
	ckpt := checkpoint.Checkpoint{
		Metadata: checkpoint.Metadata{
			RunID: o.SessionID, Iteration: o.iteration, TakenAt: time.Now(),
			State: o.Machine.State(), ContextSize: o.Transcript.Len(),
			SuccessRate: checkpoint.SuccessRate(failureHistory),
		},
		ContextMessages: o.Transcript.Snapshot(),
		TaskPlan:        taskPlan, Findings: findings, Progress: progress,
		FailureHistory: failureHistory,
	}
	_, _ = o.Checkpoints.Save(ctx, ckpt, o.checkpointPolicy())
}

func (o *Orchestrator) finish(ctx context.Context, status stream.DoneStatus) error {
	_ = o.Emitter.Done(ctx, status, progressToMap(o.Scheduler.Progress()))
	return nil
}

func doneStatusFor(s statemachine.State) stream.DoneStatus {
	switch s {
	case statemachine.Success:
		return stream.DoneSuccess
	case statemachine.Cancelled:
		return stream.DoneCancelled
	case statemachine.TimedOut:
		return stream.DoneTimeout
	default:
		return stream.DoneFailed
	}
}

func progressToMap(p plan.Progress) map[string]any {
	return map[string]any{
		"total": p.Total, "completed": p.Completed, "failed": p.Failed,
		"in_progress": p.InProgress, "pending": p.Pending, "skipped": p.Skipped,
		"ratio": p.Ratio, "next_ready_ids": p.NextReadyIDs,
	}
}

func preview(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max]
}
