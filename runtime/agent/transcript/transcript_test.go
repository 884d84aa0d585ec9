package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendHelpers_RecordExpectedKindsAndRoles(t *testing.T) {
	l := New()
	l.AppendUser("hello")
	l.AppendAssistant("hi there")
	l.AppendToolResult("tu_1", map[string]any{"ok": true}, false)

	entries := l.All()
	require.Len(t, entries, 3)
	require.Equal(t, KindUserTurn, entries[0].Kind)
	require.Equal(t, KindAssistantTurn, entries[1].Kind)
	require.Equal(t, KindToolResult, entries[2].Kind)
}

func TestTail_ReturnsLastNOrEverythingIfFewer(t *testing.T) {
	l := New()
	for _, s := range []string{"a", "b", "c"} {
		l.AppendUser(s)
	}

	require.Len(t, l.Tail(2), 2)
	require.Len(t, l.Tail(10), 3)
	require.Len(t, l.Tail(0), 3)
}

func TestShouldSummarize_CrossesRatioOfWindow(t *testing.T) {
	l := New()
	l.Append(Entry{Kind: KindUserTurn, Tokens: 600})

	require.False(t, l.ShouldSummarize(1000, 0.7))
	l.Append(Entry{Kind: KindUserTurn, Tokens: 200})
	require.True(t, l.ShouldSummarize(1000, 0.7))
}

func TestShouldSummarize_FalseWhenWindowIsZero(t *testing.T) {
	l := New()
	l.Append(Entry{Kind: KindUserTurn, Tokens: 1000})
	require.False(t, l.ShouldSummarize(0, 0.7))
}

func TestSummarize_KeepsTailAndReplacesRestWithSummaryEntry(t *testing.T) {
	l := New()
	l.AppendUser("a")
	l.AppendUser("b")
	l.AppendUser("c")
	l.AppendUser("d")

	l.Summarize("condensed history", 1)

	require.Equal(t, "condensed history", l.Summary())
	entries := l.All()
	require.Len(t, entries, 2)
	require.Equal(t, KindSummary, entries[0].Kind)
	require.Equal(t, KindUserTurn, entries[1].Kind)
}

func TestSummarize_NoOpWhenKeepTailCoversEverything(t *testing.T) {
	l := New()
	l.AppendUser("a")
	l.AppendUser("b")

	l.Summarize("unused", 5)

	require.Equal(t, "", l.Summary())
	require.Equal(t, 2, l.Len())
}

func TestSnapshotAndRestore_RoundTrips(t *testing.T) {
	l := New()
	l.AppendUser("hello")
	l.Append(Entry{Kind: KindAssistantTurn, Tokens: 12, Message: l.All()[0].Message})

	snapshot := l.Snapshot()
	restored := Restore(snapshot)

	require.Equal(t, l.Len(), restored.Len())
	require.Equal(t, l.All()[0].Kind, restored.All()[0].Kind)
	require.Equal(t, 12, restored.All()[1].Tokens)
}
