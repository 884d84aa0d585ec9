// Package planner implements the Atomic Planner (C8): it decomposes a goal
// into a Task DAG and produces revised plans on failure, grounded on
// AtomicPlanner.plan()/.replan() as used by PlanningAgentEngine
// (backend/app/agent/planning_engine.py). The deprecated plan_manager.py
// supplies the Task/Plan field shapes already carried into
// runtime/agent/plan; this package owns only plan *generation*, not the
// data model or scheduling state.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"goatomic.dev/runtime/runtime/agent/agenterr"
	"goatomic.dev/runtime/runtime/agent/model"
	"goatomic.dev/runtime/runtime/agent/plan"
	"goatomic.dev/runtime/runtime/agent/tools"
)

// MaxRepairAttempts bounds how many repair prompts the planner issues
// before reporting plan_failed (spec.md §4.2).
const MaxRepairAttempts = 3

// RepairContext carries the replan inputs spec.md §4.2 names: the prior
// plan, which task failed, the error message, and any pertinent findings.
type RepairContext struct {
	PriorPlan  *plan.Plan
	FailedTask string
	Error      string
	Findings   string
}

// Planner composes model prompts to produce and repair Plans.
type Planner struct {
	Client   model.Client
	Registry *tools.Registry
	Schema   *jsonschema.Schema
}

// planSchemaDoc is the JSON Schema a generated plan's JSON representation must
// satisfy before Plan.Validate's DAG invariants are even checked; it is
// compiled once and reused for every repair attempt.
var planSchemaDoc = []byte(`{
	"type": "object",
	"required": ["goal", "tasks"],
	"properties": {
		"goal": {"type": "string"},
		"tasks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "title"],
				"properties": {
					"id": {"type": "string"},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"acceptance_criteria": {"type": "string"},
					"tool_hints": {"type": "array", "items": {"type": "string"}},
					"dependencies": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`)

// New constructs a Planner, compiling the plan JSON Schema once.
func New(client model.Client, reg *tools.Registry) (*Planner, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.json", mustDecodeSchema(planSchemaDoc)); err != nil {
		return nil, fmt.Errorf("planner: compile schema: %w", err)
	}
	sch, err := compiler.Compile("plan.json")
	if err != nil {
		return nil, fmt.Errorf("planner: compile schema: %w", err)
	}
	return &Planner{Client: client, Registry: reg, Schema: sch}, nil
}

func mustDecodeSchema(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		panic(err)
	}
	return v
}

// generatedTask/generatedPlan mirror the wire shape the model is asked to
// produce; decoupled from plan.Task/plan.Plan so the prompt contract can
// evolve without touching the scheduler's data model.
type generatedTask struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria string   `json:"acceptance_criteria"`
	ToolHints          []string `json:"tool_hints"`
	Dependencies       []string `json:"dependencies"`
}

type generatedPlan struct {
	Goal  string          `json:"goal"`
	Tasks []generatedTask `json:"tasks"`
}

// Plan decomposes goal into a validated Task DAG (spec.md §4.2), attempting
// up to MaxRepairAttempts repair prompts if the model's output fails
// schema or DAG validation.
func (p *Planner) Plan(ctx context.Context, goal string) (*plan.Plan, error) {
	return p.generate(ctx, p.systemPrompt(), p.userPrompt(goal))
}

// Replan produces a repaired plan given a failed-task context, preserving
// already-completed task ids by title and status (spec.md §4.2 Replan).
// Returns an agenterr.KindPlanValidationFailed error (the cannot-replan
// signal, message "cannot produce a valid plan after N attempts") if no
// valid plan is produced within MaxRepairAttempts.
func (p *Planner) Replan(ctx context.Context, rc RepairContext) (*plan.Plan, error) {
	newPlan, err := p.generate(ctx, p.systemPrompt(), p.replanPrompt(rc))
	if err != nil {
		return nil, err
	}
	preserveCompleted(rc.PriorPlan, newPlan)
	newPlan.Version = rc.PriorPlan.Version + 1
	if err := newPlan.Validate(); err != nil {
		return nil, err
	}
	return newPlan, nil
}

func preserveCompleted(prior, next *plan.Plan) {
	if prior == nil || next == nil {
		return
	}
	byTitle := make(map[string]*plan.Task, len(prior.Tasks))
	for _, t := range prior.Tasks {
		if t.Status.Terminal() {
			byTitle[t.Title] = t
		}
	}
	for _, t := range next.Tasks {
		if old, ok := byTitle[t.Title]; ok {
			t.Status = old.Status
			t.CompletedAt = old.CompletedAt
			t.StartedAt = old.StartedAt
		}
	}
}

func (p *Planner) generate(ctx context.Context, system, user string) (*plan.Plan, error) {
	var lastErr error
	prompt := user
	for attempt := 1; attempt <= MaxRepairAttempts; attempt++ {
		resp, err := p.Client.Complete(ctx, &model.Request{
			ModelClass: model.ModelClassHighReasoning,
			Messages: []*model.Message{
				{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: system}}},
				{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: prompt}}},
			},
		})
		if err != nil {
			return nil, agenterr.NewWithCause(agenterr.KindPlanValidationFailed, "planner: model call failed", err)
		}

		raw := extractJSON(responseText(resp))
		if raw == "" {
			lastErr = fmt.Errorf("planner: no JSON object found in model response")
			prompt = p.repairPrompt(user, lastErr)
			continue
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			lastErr = fmt.Errorf("planner: invalid JSON: %w", err)
			prompt = p.repairPrompt(user, lastErr)
			continue
		}
		if err := p.Schema.Validate(v); err != nil {
			lastErr = fmt.Errorf("planner: schema validation failed: %w", err)
			prompt = p.repairPrompt(user, lastErr)
			continue
		}

		var gp generatedPlan
		if err := json.Unmarshal([]byte(raw), &gp); err != nil {
			lastErr = err
			prompt = p.repairPrompt(user, lastErr)
			continue
		}

		pl := toDomainPlan(gp)
		if err := pl.Validate(); err != nil {
			lastErr = err
			prompt = p.repairPrompt(user, lastErr)
			continue
		}
		return pl, nil
	}
	return nil, agenterr.NewWithCause(agenterr.KindPlanValidationFailed,
		fmt.Sprintf("planner: cannot produce a valid plan after %d attempts", MaxRepairAttempts), lastErr)
}

func toDomainPlan(gp generatedPlan) *plan.Plan {
	pl := &plan.Plan{ID: uuid.NewString(), Goal: gp.Goal, Version: 1}
	for _, t := range gp.Tasks {
		pl.Tasks = append(pl.Tasks, &plan.Task{
			ID:                 t.ID,
			Title:              t.Title,
			Description:        t.Description,
			AcceptanceCriteria: t.AcceptanceCriteria,
			ToolHints:          t.ToolHints,
			Dependencies:       t.Dependencies,
			Status:             plan.StatusPending,
			MaxRetries:         plan.DefaultMaxRetries,
		})
	}
	return pl
}

func (p *Planner) systemPrompt() string {
	var toolLines strings.Builder
	if p.Registry != nil {
		for _, s := range p.Registry.All() {
			fmt.Fprintf(&toolLines, "- %s: %s\n", s.Ident(), s.Description)
		}
	}
	return "You are a task planner. Decompose the user's goal into a minimal set of " +
		"atomic tasks, each sized so a single bounded LLM/tool loop can complete it, " +
		"with one verifiable acceptance criterion apiece. Respond with a single JSON " +
		"object: {\"goal\": string, \"tasks\": [{\"id\", \"title\", \"description\", " +
		"\"acceptance_criteria\", \"tool_hints\": [string], \"dependencies\": [string]}]}. " +
		"Every dependency id must reference another task in the same list. At least " +
		"one task must have no dependencies.\n\nAvailable tools:\n" + toolLines.String()
}

func (p *Planner) userPrompt(goal string) string {
	return "Goal: " + goal
}

func (p *Planner) replanPrompt(rc RepairContext) string {
	var b strings.Builder
	b.WriteString("The current plan hit a failure and needs repair.\n\n")
	b.WriteString("Goal: " + rc.PriorPlan.Goal + "\n")
	b.WriteString("Current plan:\n" + rc.PriorPlan.Checklist() + "\n")
	b.WriteString("Failed task id: " + rc.FailedTask + "\n")
	b.WriteString("Error: " + rc.Error + "\n")
	if rc.Findings != "" {
		b.WriteString("Findings so far:\n" + rc.Findings + "\n")
	}
	b.WriteString("\nProduce a repaired plan as the same JSON object shape. Preserve " +
		"completed task titles verbatim so progress is not lost.")
	return b.String()
}

func (p *Planner) repairPrompt(original string, cause error) string {
	return original + "\n\nYour previous response was rejected: " + cause.Error() +
		"\nRespond again with ONLY the corrected JSON object, no prose."
}

func responseText(resp *model.Response) string {
	var b strings.Builder
	for _, m := range resp.Content {
		for _, part := range m.Parts {
			if tp, ok := part.(model.TextPart); ok {
				b.WriteString(tp.Text)
			}
		}
	}
	return b.String()
}

// extractJSON returns the first top-level {...} object found in s, tolerant
// of prose the model may wrap around the JSON payload.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
