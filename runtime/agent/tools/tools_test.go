package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

func TestToolSpec_Ident(t *testing.T) {
	spec := ToolSpec{Service: "web", Toolset: "search", Name: "query"}
	require.Equal(t, Ident("web.search.query"), spec.Ident())
}

func TestRiskLevel_Valid(t *testing.T) {
	require.True(t, RiskSafe.Valid())
	require.True(t, RiskSensitive.Valid())
	require.True(t, RiskDestructive.Valid())
	require.False(t, RiskLevel("unknown").Valid())
}

func TestRiskLevel_RequiresConfirmation(t *testing.T) {
	require.False(t, RiskDestructive.RequiresConfirmation(false), "HITL disabled never confirms")
	require.True(t, RiskDestructive.RequiresConfirmation(true))
	require.False(t, RiskSensitive.RequiresConfirmation(true))
	require.False(t, RiskSafe.RequiresConfirmation(true))
}

func TestRegistry_RegisterRejectsIncompleteSpec(t *testing.T) {
	r := NewRegistry()
	err := r.Register(ToolSpec{Name: "query"})
	require.Error(t, err)
	require.False(t, r.Has(Ident("..query")))
}

func TestRegistry_RegisterDefaultsRiskToSafe(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ToolSpec{Service: "fs", Toolset: "file", Name: "read"}))

	spec, ok := r.Get(Ident("fs.file.read"))
	require.True(t, ok)
	require.Equal(t, RiskSafe, spec.RiskLevel)
}

func TestRegistry_NamesSortedAndAllMatchesCount(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ToolSpec{Service: "z", Toolset: "t", Name: "n"}))
	require.NoError(t, r.Register(ToolSpec{Service: "a", Toolset: "t", Name: "n"}))

	names := r.Names()
	require.Equal(t, []Ident{"a.t.n", "z.t.n"}, names)
	require.Len(t, r.All(), 2)
}

func TestRegistry_Invoke_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), Ident("missing.tool.x"), nil)

	var re *agenterr.RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, agenterr.KindToolUnknown, re.Kind)
}

func TestRegistry_Invoke_SpecWithoutHandler(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ToolSpec{Service: "web", Toolset: "search", Name: "query"}))

	_, err := r.Invoke(context.Background(), Ident("web.search.query"), nil)
	var re *agenterr.RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, agenterr.KindToolUnknown, re.Kind)
}

func TestRegistry_Invoke_Success(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ToolSpec{Service: "web", Toolset: "search", Name: "query"}))
	r.RegisterHandler(Ident("web.search.query"), func(ctx context.Context, payload json.RawMessage) (any, error) {
		return map[string]string{"result": "ok"}, nil
	})

	result, err := r.Invoke(context.Background(), Ident("web.search.query"), nil)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"result": "ok"}, result)
}

func TestRegistry_Invoke_HandlerErrorWrappedAsRuntimeError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ToolSpec{Service: "web", Toolset: "search", Name: "query"}))
	r.RegisterHandler(Ident("web.search.query"), func(ctx context.Context, payload json.RawMessage) (any, error) {
		return nil, agenterr.New(agenterr.KindToolTransient, "rate limited")
	})

	_, err := r.Invoke(context.Background(), Ident("web.search.query"), nil)
	var re *agenterr.RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, agenterr.KindToolTransient, re.Kind)
}

func TestRegistry_Invoke_PlainHandlerErrorBecomesInternal(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ToolSpec{Service: "web", Toolset: "search", Name: "query"}))
	r.RegisterHandler(Ident("web.search.query"), func(ctx context.Context, payload json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := r.Invoke(context.Background(), Ident("web.search.query"), nil)
	var re *agenterr.RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, agenterr.KindInternal, re.Kind)
}
