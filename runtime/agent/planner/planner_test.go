package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goatomic.dev/runtime/runtime/agent/agenterr"
	"goatomic.dev/runtime/runtime/agent/model"
	"goatomic.dev/runtime/runtime/agent/plan"
	"goatomic.dev/runtime/runtime/agent/tools"
)

// scriptedClient returns one canned completion per call, in order, letting
// tests exercise the repair loop deterministically.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	text := ""
	if i < len(c.responses) {
		text = c.responses[i]
	}
	return &model.Response{Content: []model.Message{
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}},
	}}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

const validPlanJSON = `{"goal":"write a haiku","tasks":[{"id":"t1","title":"draft haiku","description":"write it","acceptance_criteria":"three lines","dependencies":[]}]}`

func TestPlan_ValidFirstResponse(t *testing.T) {
	client := &scriptedClient{responses: []string{validPlanJSON}}
	p, err := New(client, tools.NewRegistry())
	require.NoError(t, err)

	pl, err := p.Plan(context.Background(), "write a haiku")
	require.NoError(t, err)
	require.Equal(t, "write a haiku", pl.Goal)
	require.Len(t, pl.Tasks, 1)
	require.Equal(t, 1, client.calls)
}

func TestPlan_ToleratesProseWrappedAroundJSON(t *testing.T) {
	wrapped := "Sure, here's the plan:\n" + validPlanJSON + "\nLet me know if you want changes."
	client := &scriptedClient{responses: []string{wrapped}}
	p, err := New(client, tools.NewRegistry())
	require.NoError(t, err)

	pl, err := p.Plan(context.Background(), "write a haiku")
	require.NoError(t, err)
	require.Len(t, pl.Tasks, 1)
}

func TestPlan_RepairsAfterInvalidJSONThenSucceeds(t *testing.T) {
	client := &scriptedClient{responses: []string{"not json at all", validPlanJSON}}
	p, err := New(client, tools.NewRegistry())
	require.NoError(t, err)

	pl, err := p.Plan(context.Background(), "write a haiku")
	require.NoError(t, err)
	require.Len(t, pl.Tasks, 1)
	require.Equal(t, 2, client.calls)
}

func TestPlan_RepairsAfterCyclicDAGThenSucceeds(t *testing.T) {
	cyclic := `{"goal":"g","tasks":[{"id":"a","title":"A","dependencies":["b"]},{"id":"b","title":"B","dependencies":["a"]}]}`
	client := &scriptedClient{responses: []string{cyclic, validPlanJSON}}
	p, err := New(client, tools.NewRegistry())
	require.NoError(t, err)

	pl, err := p.Plan(context.Background(), "write a haiku")
	require.NoError(t, err)
	require.Len(t, pl.Tasks, 1)
}

func TestPlan_FailsAfterMaxRepairAttempts(t *testing.T) {
	client := &scriptedClient{responses: []string{"garbage", "still garbage", "more garbage"}}
	p, err := New(client, tools.NewRegistry())
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), "write a haiku")
	require.Error(t, err)
	var re *agenterr.RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, agenterr.KindPlanValidationFailed, re.Kind)
	require.Equal(t, MaxRepairAttempts, client.calls)
}

func TestPlan_ModelErrorWrappedAsPlanValidationFailed(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("provider down")}}
	p, err := New(client, tools.NewRegistry())
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), "write a haiku")
	var re *agenterr.RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, agenterr.KindPlanValidationFailed, re.Kind)
}

func TestReplan_PreservesCompletedTaskStatusByTitle(t *testing.T) {
	priorPlan := &plan.Plan{
		ID:      "prior",
		Goal:    "write a haiku",
		Version: 1,
		Tasks: []*plan.Task{
			{ID: "old-1", Title: "draft haiku", Status: plan.StatusCompleted},
		},
	}
	replanJSON := `{"goal":"write a haiku","tasks":[{"id":"t1","title":"draft haiku","dependencies":[]},{"id":"t2","title":"polish haiku","dependencies":["t1"]}]}`
	client := &scriptedClient{responses: []string{replanJSON}}
	p, err := New(client, tools.NewRegistry())
	require.NoError(t, err)

	newPlan, err := p.Replan(context.Background(), RepairContext{
		PriorPlan:  priorPlan,
		FailedTask: "old-2",
		Error:      "tool_permanent: unsupported operation",
	})
	require.NoError(t, err)
	require.Equal(t, 2, newPlan.Version)

	var draft *plan.Task
	for _, t := range newPlan.Tasks {
		if t.Title == "draft haiku" {
			draft = t
		}
	}
	require.NotNil(t, draft)
	require.Equal(t, plan.StatusCompleted, draft.Status, "completed task status survives replan by title")
}

func TestSystemPrompt_ListsRegisteredTools(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.ToolSpec{Service: "web", Toolset: "search", Name: "query", Description: "search the web"}))

	client := &scriptedClient{responses: []string{validPlanJSON}}
	p, err := New(client, reg)
	require.NoError(t, err)

	prompt := p.systemPrompt()
	require.Contains(t, prompt, "web.search.query")
	require.Contains(t, prompt, "search the web")
}
